package cli

import (
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/scenebridge/internal/wire"
)

// DecodeOptions holds flags for the decode command.
type DecodeOptions struct {
	*RootOptions
	Hex bool
}

// DecodedMessage is one record of a decoded batch.
type DecodedMessage struct {
	Index     int    `json:"index"`
	Type      string `json:"type"`
	Entity    uint32 `json:"entity"`
	Component uint32 `json:"component"`
	Timestamp uint32 `json:"timestamp"`
	Length    int    `json:"length"`
	Payload   string `json:"payload,omitempty"` // hex
}

// DecodeResult is the outcome of decoding one batch.
type DecodeResult struct {
	Bytes     int              `json:"bytes"`
	Messages  []DecodedMessage `json:"messages"`
	Malformed string           `json:"malformed,omitempty"`
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DecodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "decode <batch-file|->",
		Short: "Decode a wire batch and list its records",
		Long: `Decode a binary wire batch and print every record in it.

Decoding stops at the first malformed record; the records before it are
still listed. Use - to read from stdin and --hex when the input is a hex
string rather than raw bytes.

Exit codes:
  0 - Batch decoded completely
  1 - Batch is malformed
  2 - Command error (file not found, bad hex, etc.)

Examples:
  scenebridge decode ./batch.bin
  scenebridge decode --hex - <<< 0101000000010000000100000000000000
  scenebridge decode ./batch.bin --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(opts, cmd, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Hex, "hex", false, "input is hex text")

	return cmd
}

func runDecode(opts *DecodeOptions, cmd *cobra.Command, path string) error {
	raw, err := readInput(cmd, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read batch", err)
	}
	if opts.Hex {
		raw, err = hex.DecodeString(strings.Join(strings.Fields(string(raw)), ""))
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid hex input", err)
		}
	}

	result := decodeBatch(raw)
	out := newFormatter(cmd, opts.RootOptions)

	var failure *ExitError
	if result.Malformed != "" {
		failure = NewExitError(ExitFailure, result.Malformed)
	}
	if out.JSON() {
		return out.Result(result, failure, "E_MALFORMED")
	}

	out.Printf("%d bytes, %d records\n", result.Bytes, len(result.Messages))
	for _, m := range result.Messages {
		out.Printf("  [%d] %-16s e=%d c=%d t=%d len=%d", m.Index, m.Type, m.Entity, m.Component, m.Timestamp, m.Length)
		if opts.Verbose && m.Payload != "" {
			out.Printf(" %s", m.Payload)
		}
		out.Printf("\n")
	}
	if failure != nil {
		out.Printf("✗ %s\n", result.Malformed)
		return failure
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// decodeBatch lists every decodable record of buf.
func decodeBatch(buf []byte) DecodeResult {
	res := DecodeResult{Bytes: len(buf), Messages: []DecodedMessage{}}
	d := wire.Decode(buf)
	for d.Next() {
		m := d.Message()
		dm := DecodedMessage{
			Index:     len(res.Messages),
			Type:      m.Type.String(),
			Entity:    uint32(m.Entity),
			Component: uint32(m.Component),
			Timestamp: uint32(m.Timestamp),
			Length:    len(m.Payload),
		}
		if len(m.Payload) > 0 {
			dm.Payload = hex.EncodeToString(m.Payload)
		}
		res.Messages = append(res.Messages, dm)
	}
	if err := d.Err(); err != nil {
		res.Malformed = err.Error()
	}
	return res
}
