package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/eqrender/pkg/template"
)

// initCommand creates the init command, which installs the built-in template.
func (c *CLI) initCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default template into the templates directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromContext(cmd.Context())
			dir := cfg.Resolve(cfg.TemplatesDir)

			path, err := template.Install(dir, template.DefaultName, force)
			if err != nil {
				return err
			}
			printSuccess("Installed template %q", template.DefaultName)
			printFile(path)
			fmt.Println()
			printNextStep("Render your equations", appName+" render -i "+cfg.Input)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing template")
	return cmd
}

// templatesCommand creates the templates command, which lists the templates
// available for --template.
func (c *CLI) templatesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List available templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromContext(cmd.Context())
			dir := cfg.Resolve(cfg.TemplatesDir)

			names, err := template.List(dir)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				printInfo("No templates in %s", dir)
				printNextStep("Install the default template", appName+" init")
				return nil
			}
			for _, name := range names {
				if name == cfg.Template {
					fmt.Println(StyleHighlight.Render(name) + StyleDim.Render(" (selected)"))
					continue
				}
				fmt.Println(name)
			}
			return nil
		},
	}
}
