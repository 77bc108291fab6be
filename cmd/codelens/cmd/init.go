package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codelens-ai/codelens/configs"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an annotated codelens.yaml to the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			const path = "codelens.yaml"
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing codelens.yaml")
	return cmd
}
