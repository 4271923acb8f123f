// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/truthwindow/cmd/truthwindow/config"
)

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.DefaultPath
	if len(args) == 1 {
		path = args[0]
	}
	if err := config.WriteDefault(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

// runConfigShow prints the merged configuration. API keys are reduced to a
// short prefix.
func runConfigShow(cmd *cobra.Command, _ []string) error {
	shown := cfg
	shown.Server.APIKeys = make([]string, len(cfg.Server.APIKeys))
	for i, key := range cfg.Server.APIKeys {
		shown.Server.APIKeys[i] = maskSecret(key)
	}
	out, err := yaml.Marshal(shown)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func maskSecret(s string) string {
	if len(s) <= 6 {
		return "******"
	}
	return s[:4] + "******"
}
