package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bugVanisher/dashpkg/codec/h264"
	"github.com/bugVanisher/dashpkg/codec/h265"
	"github.com/bugVanisher/dashpkg/codec/nalu"
	"github.com/bugVanisher/dashpkg/common/errs"
)

// inspectCmd walks an Annex-B elementary stream NAL by NAL, logging
// parameter sets as it finds them, the way a packager would while probing a
// source file before encoding.
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Walk an Annex-B H.264/H.265 elementary stream and log each NAL unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect()
	},
}

type inspectArgs struct {
	file  string
	codec string
}

var insp inspectArgs

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&insp.file, "file", "f", "", "Annex-B elementary stream to inspect")
	_ = inspectCmd.MarkFlagRequired("file")
	inspectCmd.Flags().StringVarP(&insp.codec, "codec", "c", "h264", "h264 or h265")
}

func runInspect() error {
	data, err := os.ReadFile(insp.file)
	if err != nil {
		return err
	}

	var codec nalu.CodecType
	switch insp.codec {
	case "h264":
		codec = nalu.CodecH264
	case "h265":
		codec = nalu.CodecH265
	default:
		return errs.Wrapf(errs.ErrConfigurationError, "cmd: unknown codec %q, want h264 or h265", insp.codec)
	}

	h264Parser := h264.NewParser()
	h265Parser := h265.NewParser()

	framer := nalu.NewAnnexBFramer(codec, data)
	count := 0
	for {
		n, res := framer.Advance()
		if res == nalu.ResultEOStream {
			break
		}
		if res != nalu.ResultOk {
			return errs.Wrapf(errs.ErrInvalidStream, "cmd: inspect %s: malformed NAL unit at index %d", insp.file, count)
		}
		count++

		ev := log.Info().Int("index", count).Int("type", n.Type).Int("bytes", len(n.Data))
		switch {
		case n.IsParameterSet() && codec == nalu.CodecH264 && n.Type == nalu.H264SPS:
			sps, perr := h264Parser.ParseSPS(n)
			if perr == nil {
				ev = ev.Int("sps_id", sps.SeqParameterSetID).Int("profile_idc", sps.ProfileIDC)
			}
		case n.IsParameterSet() && codec == nalu.CodecH264 && n.Type == nalu.H264PPS:
			pps, perr := h264Parser.ParsePPS(n)
			if perr == nil {
				ev = ev.Int("pps_id", pps.PicParameterSetID).Int("sps_id", pps.SeqParameterSetID)
			}
		case n.IsParameterSet() && codec == nalu.CodecH265 && n.Type == nalu.H265SPS:
			sps, perr := h265Parser.ParseSPS(n)
			if perr == nil {
				ev = ev.Int("sps_id", sps.SeqParameterSetID).Int("width", sps.PicWidthInLumaSamples).Int("height", sps.PicHeightInLumaSamples)
			}
		case n.IsParameterSet() && codec == nalu.CodecH265 && n.Type == nalu.H265PPS:
			pps, perr := h265Parser.ParsePPS(n)
			if perr == nil {
				ev = ev.Int("pps_id", pps.PicParameterSetID).Int("sps_id", pps.SeqParameterSetID)
			}
		}
		ev.Msg("nal unit")
	}
	log.Info().Str("file", insp.file).Int("count", count).Msg("done")
	return nil
}
