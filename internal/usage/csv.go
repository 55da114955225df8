// Package usage records per-tunnel traffic samples in an append-only CSV log
// and computes windowed summaries for the status surface.
package usage

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Sample is a single usage report from a node.
type Sample struct {
	Timestamp time.Time
	TunnelID  string
	NodeID    string
	BytesUsed int64
}

var header = []string{"timestamp", "tunnel_id", "node_id", "bytes_used"}

// WriteCSV writes samples with a fixed column order.
func WriteCSV(w io.Writer, items []Sample) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(header); err != nil {
		return err
	}
	for _, s := range items {
		record := []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			s.TunnelID,
			s.NodeID,
			strconv.FormatInt(s.BytesUsed, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

// AppendCSV appends samples to the log at path, writing the header when the
// file is new. Callers serialize concurrent appends.
func AppendCSV(path string, items []Sample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	info, err := os.Stat(path)
	fresh := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	defer writer.Flush()

	if fresh {
		if err := writer.Write(header); err != nil {
			return err
		}
	}
	for _, s := range items {
		record := []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			s.TunnelID,
			s.NodeID,
			strconv.FormatInt(s.BytesUsed, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

// ReadCSV loads all samples from the log at path. A missing file yields an
// empty slice.
func ReadCSV(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(header)

	var items []Sample
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if first {
			first = false
			if record[0] == header[0] {
				continue
			}
		}
		ts, err := time.Parse(time.RFC3339Nano, record[0])
		if err != nil {
			continue
		}
		bytesUsed, err := strconv.ParseInt(record[3], 10, 64)
		if err != nil {
			continue
		}
		items = append(items, Sample{
			Timestamp: ts,
			TunnelID:  record[1],
			NodeID:    record[2],
			BytesUsed: bytesUsed,
		})
	}
	return items, nil
}
