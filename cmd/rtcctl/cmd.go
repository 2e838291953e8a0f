package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/patrickwarner/rtcadserve/internal/observability"
	"github.com/patrickwarner/rtcadserve/internal/targeting"
)

// New returns the rtcctl root command.
func New(logger *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:          "rtcctl",
		Short:        "Inspect RTC targeting, ad request URLs and slot data",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newAdURLCmd(logger), newDecodeCmd(), newEventsCmd(), newSlotsCmd(logger))
	return root
}

type adURLOptions struct {
	baseURL   string
	maxLength int
	file      string
}

func (o *adURLOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.baseURL, "base-url", targeting.DefaultBaseURL, "ad endpoint the URL is built on")
	fs.IntVar(&o.maxLength, "max-length", targeting.DefaultMaxURLLength, "maximum ad URL length")
	fs.StringVarP(&o.file, "file", "f", "-", "file holding the RTC results JSON array, - for stdin")
}

func newAdURLCmd(logger *zap.Logger) *cobra.Command {
	opts := &adURLOptions{}
	cmd := &cobra.Command{
		Use:   "adurl",
		Short: "Build the ad request URL from RTC results",
		Long: `Reads a JSON array of RTC results and prints the ad request URL built
from the targeting of the first result.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if opts.file != "-" {
				f, err := os.Open(opts.file)
				if err != nil {
					return fmt.Errorf("open results: %w", err)
				}
				defer func() {
					_ = f.Close()
				}()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read results: %w", err)
			}
			var results []targeting.Result
			if err := json.Unmarshal(data, &results); err != nil {
				return fmt.Errorf("parse results: %w", err)
			}

			resolver := targeting.NewResolver(opts.baseURL, opts.maxLength, logger, observability.NewNoOpRegistry())
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resolver.ResolveAdURL(results))
			return err
		},
	}
	opts.addFlags(cmd.Flags())
	return cmd
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode AD_URL",
		Short: "Print the targeting carried by an ad request URL as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse url: %w", err)
			}
			t, err := targeting.Parse(u.Query().Get(targeting.ScpParam))
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(t, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
