package tvcli

import (
	"fmt"
	"os"

	"github.com/function61/gokit/fileexists"
	"github.com/function61/gokit/osutil"
	"github.com/function61/tapevault/pkg/tvconfig"
	"github.com/spf13/cobra"
)

func configEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manages tool configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Writes a config file with detected defaults",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(func() error {
				confPath, err := tvconfig.ConfigFilePath()
				if err != nil {
					return err
				}

				exists, err := fileexists.Exists(confPath)
				if err != nil {
					return err
				}
				if exists {
					return fmt.Errorf("config already exists: %s", confPath)
				}

				if err := tvconfig.Write(tvconfig.Defaults()); err != nil {
					return err
				}

				fmt.Printf("wrote %s\n", confPath)

				return nil
			}())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Prints the current configuration",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(func() error {
				confPath, err := tvconfig.ConfigFilePath()
				if err != nil {
					return err
				}

				content, err := os.ReadFile(confPath)
				if err != nil {
					return err
				}

				_, err = os.Stdout.Write(content)
				return err
			}())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Checks that the configured environment can run transfers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(func() error {
				conf, err := tvconfig.Read()
				if err != nil {
					return err
				}

				issues := conf.Validate()
				if len(issues) == 0 {
					fmt.Println("ok")
					return nil
				}

				for _, issue := range issues {
					fmt.Printf("issue: %s\n", issue)
				}

				return fmt.Errorf("%d issue(s) found", len(issues))
			}())
		},
	})

	return cmd
}
