package ctl

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rcowellai/recording-app-sub000/internal/recorder"
)

var (
	codecsRuntime string
	codecsPolicy  string
)

// codecsCmd resolves the codec preference order against a simulated
// runtime, so an operator can see which container a given browser would
// record with, or what a policy override changes, before shipping either.
var codecsCmd = &cobra.Command{
	Use:   "codecs",
	Short: "Show which codec a runtime would record with",
	RunE: func(cmd *cobra.Command, args []string) error {
		selector := recorder.NewCodecSelector(recorder.RuntimeProbe(codecsRuntime))
		if codecsPolicy != "" {
			policy, err := recorder.LoadPolicyFile(codecsPolicy)
			if err != nil {
				return fmt.Errorf("load policy: %w", err)
			}
			selector = selector.WithPolicy(policy)
		}

		for _, kind := range []recorder.MediaKind{recorder.MediaKindAudio, recorder.MediaKindVideo} {
			descriptor, err := selector.Select(kind)
			if err != nil {
				color.Red("✗ %-5s unsupported on %s", kind, codecsRuntime)
				continue
			}
			mime := descriptor.MimeType
			if mime == "" {
				mime = "(runtime default)"
			}
			color.Green("✓ %-5s %s -> .%s", kind, mime, descriptor.Extension)
		}
		return nil
	},
}

func init() {
	codecsCmd.Flags().StringVar(&codecsRuntime, "runtime", "full", "runtime profile: full, safari, chromium, firefox, none")
	codecsCmd.Flags().StringVar(&codecsPolicy, "policy", "", "YAML codec policy file overriding the preference order")
	rootCmd.AddCommand(codecsCmd)
}
