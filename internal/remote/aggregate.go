package remote

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"

	"github.com/maestro-sh/maestro/internal/model"
)

// AggregateThreshold is the file size above which a journal is summed at
// the remote host instead of read whole. 8 MiB leaves headroom under the
// 10 MiB TransferCap.
const AggregateThreshold = 8 << 20

// FileStat is a remote journal file discovered during listing.
type FileStat struct {
	Path      string
	SizeBytes int64
}

// Aggregate holds the six scalars a remote aggregation returns. Raw file
// bytes never cross the wire on this path.
type Aggregate struct {
	SizeBytes    int64
	MessageCount int64
	Tokens       model.TokenCounts
}

// Client performs journal discovery, reads, and aggregation on a remote
// host through a Runner.
type Client struct {
	Runner Runner
	Host   string
	Log    *slog.Logger
}

func (c *Client) log() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

// ListJournals discovers journal files under dataDir/projects with their
// sizes, obtained in one round trip so callers can route each file to
// the read or aggregate path without further stats.
func (c *Client) ListJournals(ctx context.Context, dataDir string) ([]FileStat, error) {
	dir := path.Join(dataDir, "projects")
	command := fmt.Sprintf(
		`find %s -type f -name '*.jsonl' -exec wc -c {} + 2>/dev/null || true`,
		shellQuote(dir))

	stdout, _, err := c.Runner.Run(ctx, c.Host, command)
	if err != nil {
		return nil, fmt.Errorf("listing remote journals on %s: %w", c.Host, err)
	}

	var files []FileStat
	for _, line := range strings.Split(string(stdout), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[len(fields)-1] == "total" {
			continue
		}
		size, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		files = append(files, FileStat{
			Path:      strings.Join(fields[1:], " "),
			SizeBytes: size,
		})
	}
	return files, nil
}

// ReadJournal transfers a whole journal file. Callers must check the
// size against AggregateThreshold first; a file that still exceeds the
// transfer cap surfaces ErrOutputTruncated.
func (c *Client) ReadJournal(ctx context.Context, filePath string) ([]byte, error) {
	stdout, _, err := c.Runner.Run(ctx, c.Host, "cat "+shellQuote(filePath))
	if err != nil {
		return nil, fmt.Errorf("reading remote journal %s: %w", filePath, err)
	}
	return stdout, nil
}

// aggregateScript sums the usage fields of assistant journal lines at
// the remote host. Output is two lines: the five counters, then the file
// size in bytes.
const aggregateScript = `LC_ALL=C awk '
function num(s) { gsub(/[^0-9]/, "", s); return s + 0 }
{
  if (match($0, /"input_tokens"[ ]*:[ ]*[0-9]+/))               { n++; in_t += num(substr($0, RSTART, RLENGTH)) }
  if (match($0, /"output_tokens"[ ]*:[ ]*[0-9]+/))              { out_t += num(substr($0, RSTART, RLENGTH)) }
  if (match($0, /"cache_read_input_tokens"[ ]*:[ ]*[0-9]+/))    { cr += num(substr($0, RSTART, RLENGTH)) }
  if (match($0, /"cache_creation_input_tokens"[ ]*:[ ]*[0-9]+/)) { cw += num(substr($0, RSTART, RLENGTH)) }
}
END { printf "%d %d %d %d %d\n", n, in_t, out_t, cr, cw }
' FILE && wc -c < FILE`

// AggregateJournal runs the remote summation for an oversized journal.
// On failure the caller skips the file and records the error; partial
// data loss is surfaced, never absorbed as a silent zero.
func (c *Client) AggregateJournal(ctx context.Context, filePath string) (Aggregate, error) {
	command := strings.ReplaceAll(aggregateScript, "FILE", shellQuote(filePath))
	stdout, stderr, err := c.Runner.Run(ctx, c.Host, command)
	if err != nil {
		return Aggregate{}, fmt.Errorf("aggregating remote journal %s: %w", filePath, err)
	}

	agg, err := parseAggregateOutput(string(stdout))
	if err != nil {
		c.log().Warn("unparseable remote aggregation output",
			"host", c.Host, "file", filePath, "stderr", strings.TrimSpace(string(stderr)))
		return Aggregate{}, fmt.Errorf("aggregating remote journal %s: %w", filePath, err)
	}
	return agg, nil
}

func parseAggregateOutput(out string) (Aggregate, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return Aggregate{}, fmt.Errorf("expected 2 output lines, got %d", len(lines))
	}

	counters := strings.Fields(lines[0])
	if len(counters) != 5 {
		return Aggregate{}, fmt.Errorf("expected 5 counters, got %d", len(counters))
	}
	nums := make([]int64, 5)
	for i, f := range counters {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return Aggregate{}, fmt.Errorf("counter %d: %w", i, err)
		}
		nums[i] = n
	}

	size, err := strconv.ParseInt(strings.TrimSpace(lines[len(lines)-1]), 10, 64)
	if err != nil {
		return Aggregate{}, fmt.Errorf("file size: %w", err)
	}

	return Aggregate{
		SizeBytes:    size,
		MessageCount: nums[0],
		Tokens: model.TokenCounts{
			InputTokens:         nums[1],
			OutputTokens:        nums[2],
			CacheReadTokens:     nums[3],
			CacheCreationTokens: nums[4],
		},
	}, nil
}

// shellQuote single-quotes a path for the remote shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
