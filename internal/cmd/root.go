package cmd

import (
	"fmt"
	"os"

	"github.com/hyperops/ecopay-chat/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version   string
	BuildTime string
	cfgFile   string
	envFile   string
)

var rootCmd = &cobra.Command{
	Use:   "ecopay-chat",
	Short: "Ecopay AI chat relay",
	Long: `Ecopay chat relay accepts a user message on POST /api/chat, adds the
Ecopay AI system prompt and forwards it to an OpenAI-compatible completion API.`,
	SilenceUsage: true,
	RunE:         runServe, // 默认启动服务
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().String("log-file", "logs/ecopay-chat.log", "log file path")

	// 服务器标志（root与serve共用）
	rootCmd.PersistentFlags().String("host", "0.0.0.0", "server host")
	rootCmd.PersistentFlags().Int("port", 3000, "server port")
	rootCmd.PersistentFlags().String("mode", "release", "server mode (debug/release/test)")

	viper.BindPFlag("logging.output", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("server.mode", rootCmd.PersistentFlags().Lookup("mode"))
}

func initConfig() {
	// Variables already present in the process environment win over the file.
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./data")
		viper.AddConfigPath("$HOME/.ecopay-chat")
	}

	config.BindEnvironment(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
