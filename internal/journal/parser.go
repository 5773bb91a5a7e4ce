// Package journal discovers and parses line-oriented agent journal
// files, extracting normalized usage records for cost accounting.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/maestro-sh/maestro/internal/model"
)

// maxLineBytes bounds a single journal line; lines are parsed one at a
// time so peak memory stays independent of file size.
const maxLineBytes = 2 * 1024 * 1024

// Parser streams journal files line by line, tolerating malformed lines.
type Parser struct {
	Log *slog.Logger
}

func (p *Parser) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

// ParseResult holds the entries of one journal file plus a count of
// lines that failed to parse. Malformed lines never abort the file:
// journals are append-only logs that may end in a partial write from a
// crashed process.
type ParseResult struct {
	Entries     []Entry
	LinesRead   int
	ParseErrors int
}

// ParseFile opens and parses a local journal file.
func (p *Parser) ParseFile(path string) (ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ParseResult{}, fmt.Errorf("opening journal: %w", err)
	}
	defer func() { _ = f.Close() }()
	return p.Parse(f, path)
}

// Parse reads journal lines from r. name is used in warnings only.
func (p *Parser) Parse(r io.Reader, name string) (ParseResult, error) {
	var res ParseResult

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		res.LinesRead++

		// Cheap pre-filter: only entry kinds the pipeline reads get a
		// full JSON decode.
		kind := topLevelType(line)
		if kind == "" {
			if !bytes.HasPrefix(bytes.TrimSpace(line), []byte("{")) {
				res.ParseErrors++
				p.log().Warn("skipping malformed journal line",
					"file", name, "line", lineNo)
			}
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			res.ParseErrors++
			p.log().Warn("skipping malformed journal line",
				"file", name, "line", lineNo, "error", err)
			continue
		}
		res.Entries = append(res.Entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("reading journal %s: %w", name, err)
	}
	return res, nil
}

// ExtractUsageEntries filters entries down to assistant turns carrying a
// usage block and normalizes them into usage records. Entries where both
// input and output tokens are zero are dropped; a zero-usage turn has no
// accounting signal. Duplicate message ids keep the last entry, which
// holds the final billed usage.
func ExtractUsageEntries(entries []Entry, fallbackSessionID string) []model.UsageEntry {
	byMessage := make(map[string]int) // message id -> index in out
	var out []model.UsageEntry

	for _, e := range entries {
		if e.Type != "assistant" || e.Message == nil || e.Message.Usage == nil {
			continue
		}
		u := e.Message.Usage
		if u.InputTokens == 0 && u.OutputTokens == 0 {
			continue
		}

		sessionID := e.SessionID
		if sessionID == "" {
			sessionID = fallbackSessionID
		}

		entry := model.UsageEntry{
			SessionID: sessionID,
			Timestamp: parseTimestampMillis(e.Timestamp),
			UUID:      e.UUID,
			MessageID: e.Message.ID,
			Model:     e.Message.Model,
			Tokens: model.TokenCounts{
				InputTokens:         u.InputTokens,
				OutputTokens:        u.OutputTokens,
				CacheReadTokens:     u.CacheReadInputTokens,
				CacheCreationTokens: u.CacheWriteTokens(),
			},
			CostUSD:     e.CostUSD,
			ProjectPath: e.Cwd,
			DurationMs:  e.DurationMs,
		}

		if e.Message.ID != "" {
			if idx, seen := byMessage[e.Message.ID]; seen {
				out[idx] = entry
				continue
			}
			byMessage[e.Message.ID] = len(out)
		}
		out = append(out, entry)
	}

	return out
}

// parseTimestampMillis normalizes an ISO-8601 timestamp to epoch
// milliseconds, returning 0 for absent or unparseable values.
func parseTimestampMillis(ts string) int64 {
	if ts == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// typeKey is the byte sequence for a JSON key named "type" (with quotes).
var typeKey = []byte(`"type"`)

// topLevelType finds the top-level "type" field in a journal line.
// Tracks brace depth and string boundaries so nested "type" keys are
// ignored. Early-exits once found, making cost O(1) vs line length.
func topLevelType(line []byte) string {
	depth := 0
	for i := 0; i < len(line); {
		switch line[i] {
		case '"':
			if depth == 1 && bytes.HasPrefix(line[i:], typeKey) {
				val, isKey := classifyType(line, i+len(typeKey))
				if isKey {
					return val
				}
				// "type" appeared as a value, not a key. Keep scanning.
			}
			i = skipJSONString(line, i)
		case '{':
			depth++
			i++
		case '}':
			depth--
			i++
		default:
			i++
		}
	}
	return ""
}

// classifyType checks whether pos follows a JSON key (expects : then a
// value). isKey=false means "type" appeared as a value and the caller
// should continue scanning.
func classifyType(line []byte, pos int) (val string, isKey bool) {
	i := skipSpaces(line, pos)
	if i >= len(line) || line[i] != ':' {
		return "", false
	}
	i = skipSpaces(line, i+1)
	if i >= len(line) || line[i] != '"' {
		return "", true // key with non-string value
	}
	i++

	end := bytes.IndexByte(line[i:], '"')
	if end < 0 || end > 20 {
		return "", true
	}
	v := string(line[i : i+end])
	switch v {
	case "assistant", "user", "system":
		return v, true
	}
	return "", true // valid key, irrelevant type (e.g. "progress")
}

func skipJSONString(line []byte, i int) int {
	i++ // opening quote
	for i < len(line) {
		switch line[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1
		default:
			i++
		}
	}
	return i
}

func skipSpaces(line []byte, i int) int {
	for i < len(line) && line[i] == ' ' {
		i++
	}
	return i
}
