package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bugVanisher/dashpkg/mpd"
)

// packageCmd drives a single-Period packaging run: one MediaInfo JSON
// descriptor per track goes in, one MPD comes out.
var packageCmd = &cobra.Command{
	Use:   "package",
	Short: "Build a DASH MPD from one or more MediaInfo track descriptors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPackage()
	},
}

type packageArgs struct {
	mediaInfoFiles        []string
	output                string
	dynamic               bool
	availabilityStartTime string
	minBufferTime         float64
	minUpdatePeriod       float64
}

var pkg packageArgs

func init() {
	rootCmd.AddCommand(packageCmd)

	packageCmd.Flags().StringSliceVarP(&pkg.mediaInfoFiles, "media-info", "m", nil, "path to a MediaInfo JSON file, repeatable (one per track)")
	_ = packageCmd.MarkFlagRequired("media-info")
	packageCmd.Flags().StringVarP(&pkg.output, "output", "o", "manifest.mpd", "path to write the generated MPD to")
	packageCmd.Flags().BoolVar(&pkg.dynamic, "dynamic", false, "generate a dynamic (live) MPD instead of static (on-demand)")
	packageCmd.Flags().StringVar(&pkg.availabilityStartTime, "availability-start-time", "", "ISO-8601 timestamp, required when --dynamic is set")
	packageCmd.Flags().Float64Var(&pkg.minBufferTime, "min-buffer-time", 2.0, "MPD@minBufferTime in seconds")
	packageCmd.Flags().Float64Var(&pkg.minUpdatePeriod, "min-update-period", 2.0, "MPD@minimumUpdatePeriod in seconds, dynamic only")
}

func runPackage() error {
	opts := &mpd.Options{
		Type:          mpd.TypeStatic,
		MinBufferTime: pkg.minBufferTime,
	}
	if pkg.dynamic {
		opts.Type = mpd.TypeDynamic
		opts.AvailabilityStartTime = pkg.availabilityStartTime
		opts.MinimumUpdatePeriod = pkg.minUpdatePeriod
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	notifier, err := mpd.NewNotifier(opts, true)
	if err != nil {
		return err
	}

	for _, path := range pkg.mediaInfoFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		mi, err := mpd.ParseMediaInfo(data)
		if err != nil {
			return err
		}
		containerID, err := notifier.NotifyNewContainer(mi)
		if err != nil {
			return err
		}
		log.Info().Str("file", path).Uint32("container_id", containerID).Msg("registered track")
	}

	if err := notifier.Flush(pkg.output); err != nil {
		return err
	}
	log.Info().Str("output", pkg.output).Msg("wrote manifest")
	return nil
}
