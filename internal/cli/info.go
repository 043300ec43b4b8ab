package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/kilupskalvis/apkdb/internal/models"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:               "info <name>",
	Short:             "Show package details",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeAvailable,
	Run:               runInfo,
}

func runInfo(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	info, err := c.DB.Info(args[0])
	if err != nil {
		exitError("%v", err)
	}

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	show := info.Installed
	if show == nil && len(info.Available) > 0 {
		show = info.Available[0]
	}

	bold.Println(info.Name)
	if show != nil {
		printPackageDetails(show)
	}

	if info.Installed != nil {
		green.Printf("installed: %s", info.Installed.Version)
		if info.Upgradeable {
			yellow.Printf(" (upgradable to %s)", info.Available[0].Version)
		}
		fmt.Println()
	}
	if len(info.Available) > 0 {
		versions := make([]string, len(info.Available))
		for i, p := range info.Available {
			versions[i] = p.Version
		}
		fmt.Printf("available: %s\n", strings.Join(versions, ", "))
	}
	if info.InWorld {
		fmt.Printf("world: %s\n", info.WorldEntry)
	}
	if len(info.RequiredBy) > 0 {
		fmt.Printf("required by: %s\n", strings.Join(info.RequiredBy, " "))
	}
}

func printPackageDetails(p *models.Package) {
	field := func(label, value string) {
		if value != "" {
			fmt.Printf("%-14s %s\n", label+":", value)
		}
	}
	field("description", p.Description)
	field("url", p.URL)
	field("license", p.License)
	field("origin", p.Origin)
	field("maintainer", p.Maintainer)
	if p.InstalledSize > 0 {
		field("installed size", humanize.IBytes(p.InstalledSize))
	}
	if p.Size > 0 {
		field("archive size", humanize.IBytes(p.Size))
	}
	if !p.BuildTime.IsZero() {
		field("built", humanize.Time(p.BuildTime))
	}
	field("purl", p.PURL())
	if len(p.Depends) > 0 {
		deps := make([]string, len(p.Depends))
		for i, d := range p.Depends {
			deps[i] = d.String()
		}
		field("depends", strings.Join(deps, " "))
	}
	if len(p.Provides) > 0 {
		provides := make([]string, len(p.Provides))
		for i, d := range p.Provides {
			provides[i] = d.String()
		}
		field("provides", strings.Join(provides, " "))
	}
}
