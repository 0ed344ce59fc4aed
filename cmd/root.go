/*
Package cmd implements the nire command-line interface: serving the memory
over HTTP or MCP, and one-shot commands for ingesting, querying and
operating on a store.
*/
package cmd

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theapemachine/nire/pkg/config"
	"github.com/theapemachine/nire/pkg/engine"
	"github.com/theapemachine/nire/pkg/logging"
)

/*
Embed a mini filesystem into the binary to hold the default config file.
This will be written to the home directory of the user running the service,
which allows a developer to easily override the config file.
*/
//go:embed cfg/*
var embedded embed.FS

var (
	projectName = "nire"
	version     = "0.1.0"
	cfgFile     string
	logLevel    string

	rootCmd = &cobra.Command{
		Use:   projectName,
		Short: "Hybrid long-term memory for conversational agents",
		Long:  longRoot,
	}
)

/*
Execute is the main entry point for the CLI.
*/
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yml",
		"config file (default is $HOME/."+projectName+"/config.yml)",
	)

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "overrides log.level from the config")
}

/*
initConfig writes the default config file to the user's home directory if it
doesn't exist, then reads it. Environment variables prefixed NIRE_ override
any key, e.g. NIRE_GRAPH_BACKEND=neo4j.
*/
func initConfig() {
	_ = godotenv.Load()

	if err := writeConfig(); err != nil {
		log.Fatal("failed to write default config", "error", err)
	}

	home, _ := os.UserHomeDir()

	viper.SetConfigName(strings.TrimSuffix(cfgFile, ".yml"))
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(home + "/." + projectName)

	viper.SetEnvPrefix(strings.ToUpper(projectName))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		log.Fatal("failed to read config", "error", err)
	}

	if logLevel != "" {
		viper.Set("log.level", logLevel)
	}

	if err := logging.Init(viper.GetString("log.level"), viper.GetString("log.file")); err != nil {
		log.Fatal("failed to initialize logging", "error", err)
	}
}

/*
writeConfig writes the default config file to the user's home directory.
*/
func writeConfig() (err error) {
	var (
		home, _ = os.UserHomeDir()
		fh      fs.File
		buf     bytes.Buffer
	)

	configDir := home + "/." + projectName
	if !CheckFileExists(configDir) {
		if err = os.MkdirAll(configDir, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	fullPath := configDir + "/config.yml"

	if CheckFileExists(fullPath) {
		return nil
	}

	if fh, err = embedded.Open("cfg/config.yml"); err != nil {
		return fmt.Errorf("failed to open embedded config file: %w", err)
	}

	defer fh.Close()

	if _, err = io.Copy(&buf, fh); err != nil {
		return fmt.Errorf("failed to read embedded config file: %w", err)
	}

	if err = os.WriteFile(fullPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Info("wrote config file", "path", fullPath)

	return nil
}

func CheckFileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !errors.Is(err, os.ErrNotExist)
}

/*
openEngine loads the config viper holds and opens an engine on it. The
caller closes the engine.
*/
func openEngine(ctx context.Context) (*engine.Engine, config.Config, error) {
	cfg, err := config.Load(viper.GetViper())

	if err != nil {
		return nil, cfg, err
	}

	eng, err := engine.New(ctx, cfg)

	return eng, cfg, err
}

/*
longRoot contains the detailed help text for the root command.
*/
var longRoot = `
nire keeps long-term memory for conversational agents. Every turn is stored
twice: as an embedding in a vector store and as entities and relations in a
knowledge graph. Queries search both and fuse the results by similarity,
graph proximity and recency.
`
