package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog [file]",
	Short: "Validate a category catalog and print it as YAML, or print the built in one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}

		c, err := loadCatalog(path)
		if err != nil {
			return err
		}

		return c.Write(cmd.OutOrStdout())
	},
}

//loadCatalog reads the catalog from path, or returns the built in one when path is empty
func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()

	return catalog.Load(f)
}
