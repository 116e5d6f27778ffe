// Package ingest turns HTTP bodies and TCP byte streams into classified raw samples.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/netdata-proxy/internal/errs"
	"github.com/and161185/netdata-proxy/internal/normalize"
	"github.com/and161185/netdata-proxy/model"
)

const maxLoggedLine = 200

// Decoded is the result of decoding one payload.
type Decoded struct {
	Samples []model.RawSample
	Failed  int // lines or elements skipped as undecodable
}

// DecodeBody decodes one HTTP body. A body that is a single JSON value is
// used as-is; otherwise it is read as newline-delimited JSON.
func DecodeBody(body []byte, logger *zap.SugaredLogger) Decoded {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Decoded{}
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err == nil {
		var d Decoded
		d.add(v, logger)
		return d
	}
	return DecodeLines(trimmed, logger)
}

// DecodeLines parses each non-blank line as one JSON value. Bad lines are
// logged and skipped.
func DecodeLines(data []byte, logger *zap.SugaredLogger) Decoded {
	var d Decoded
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		d.addLine(line, logger)
	}
	return d
}

func (d *Decoded) addLine(line []byte, logger *zap.SugaredLogger) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	var v any
	if err := json.Unmarshal(line, &v); err != nil {
		d.Failed++
		logger.Warnw("skipping undecodable line", "error", fmt.Errorf("%w: %w", errs.ErrDecode, err), "line", truncate(line))
		return
	}
	d.add(v, logger)
}

func (d *Decoded) add(v any, logger *zap.SugaredLogger) {
	switch x := v.(type) {
	case map[string]any:
		d.Samples = append(d.Samples, model.RawSample{Shape: normalize.Classify(x), Fields: x})
	case []any:
		for _, el := range x {
			obj, ok := el.(map[string]any)
			if !ok {
				d.Failed++
				logger.Warnf("skipping array element of type %T", el)
				continue
			}
			d.Samples = append(d.Samples, model.RawSample{Shape: normalize.ClassifyElement(obj), Fields: obj})
		}
	default:
		d.Failed++
		logger.Warnf("skipping JSON value of type %T", v)
	}
}

func truncate(b []byte) string {
	if len(b) > maxLoggedLine {
		return string(b[:maxLoggedLine]) + "..."
	}
	return string(b)
}
