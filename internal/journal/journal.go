// Package journal provides an append-only on-disk log of signed events for
// durable acknowledgment before batching. On restart, recovery replays the
// journal and re-enqueues events that never made it into a stored batch.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/golang/snappy"

	"github.com/anvilchain/anvilchain/pkg/types"
)

const segmentPrefix = "journal_"

// Journal appends framed, snappy-compressed event records to segment files,
// rotating when a segment exceeds maxSegSize.
type Journal struct {
	dir        string
	segment    *os.File
	segmentID  uint64
	offset     int64
	maxSegSize int64
	seq        uint64
	mu         sync.Mutex
}

// Record is a single journal entry: the event plus a monotonic sequence
// number assigned at append time.
type Record struct {
	Seq   uint64       `json:"seq"`
	Event *types.Event `json:"event"`
}

// Open creates the journal directory if needed and positions the writer at
// the end of the newest segment.
func Open(dir string, maxSegSize int64) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	j := &Journal{
		dir:        dir,
		maxSegSize: maxSegSize,
	}

	if err := j.findLastSegment(); err != nil {
		return nil, err
	}
	if err := j.openSegment(); err != nil {
		return nil, err
	}
	return j, nil
}

// findLastSegment locates the highest segment id and the last sequence number
// in it.
func (j *Journal) findLastSegment() error {
	files, err := os.ReadDir(j.dir)
	if err != nil {
		return fmt.Errorf("failed to read journal directory: %w", err)
	}

	var lastSegmentID uint64
	found := false
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		id, ok := parseSegmentName(file.Name())
		if ok && (!found || id > lastSegmentID) {
			lastSegmentID = id
			found = true
		}
	}
	if !found {
		return nil
	}

	j.segmentID = lastSegmentID
	records, err := readSegment(filepath.Join(j.dir, segmentName(lastSegmentID)))
	if err != nil {
		return err
	}
	if len(records) > 0 {
		j.seq = records[len(records)-1].Seq
	}
	return nil
}

// openSegment opens the current segment file for appending.
func (j *Journal) openSegment() error {
	path := filepath.Join(j.dir, segmentName(j.segmentID))

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open segment file: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to seek segment: %w", err)
	}

	j.segment = file
	j.offset = offset
	return nil
}

// Append durably records one event and returns its sequence number. The
// frame layout is [length:4][crc32:4][snappy(json record):length], all
// little-endian, with an fsync after every append.
func (j *Journal) Append(ev *types.Event) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	raw, err := json.Marshal(&Record{Seq: j.seq, Event: ev})
	if err != nil {
		return 0, fmt.Errorf("failed to serialize journal record: %w", err)
	}
	payload := snappy.Encode(nil, raw)
	crc := crc32.ChecksumIEEE(payload)

	if err := binary.Write(j.segment, binary.LittleEndian, uint32(len(payload))); err != nil {
		return 0, fmt.Errorf("failed to write length: %w", err)
	}
	if err := binary.Write(j.segment, binary.LittleEndian, crc); err != nil {
		return 0, fmt.Errorf("failed to write CRC: %w", err)
	}
	if _, err := j.segment.Write(payload); err != nil {
		return 0, fmt.Errorf("failed to write payload: %w", err)
	}
	if err := j.segment.Sync(); err != nil {
		return 0, fmt.Errorf("failed to fsync: %w", err)
	}

	j.offset += int64(8 + len(payload))
	if j.offset >= j.maxSegSize {
		if err := j.rotateSegment(); err != nil {
			return 0, err
		}
	}
	return j.seq, nil
}

// rotateSegment closes the current segment and starts the next one.
func (j *Journal) rotateSegment() error {
	if j.segment != nil {
		if err := j.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
	}
	j.segmentID++
	return j.openSegment()
}

// Seq returns the last assigned sequence number.
func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Close fsyncs and closes the current segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.segment != nil {
		if err := j.segment.Sync(); err != nil {
			return fmt.Errorf("failed to fsync on close: %w", err)
		}
		if err := j.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
		j.segment = nil
	}
	return nil
}

func segmentName(id uint64) string {
	return fmt.Sprintf("%s%016x.log", segmentPrefix, id)
}

func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, ".log") {
		return 0, false
	}
	var id uint64
	if _, err := fmt.Sscanf(strings.TrimSuffix(name[len(segmentPrefix):], ".log"), "%016x", &id); err != nil {
		return 0, false
	}
	return id, true
}

// readSegment reads all intact records from one segment file. A truncated
// tail frame ends the read; a CRC mismatch skips that frame.
func readSegment(path string) ([]*Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment: %w", err)
	}
	defer file.Close()

	var records []*Record
	for {
		var length uint32
		if err := binary.Read(file, binary.LittleEndian, &length); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read length: %w", err)
		}

		var crc uint32
		if err := binary.Read(file, binary.LittleEndian, &crc); err != nil {
			return nil, fmt.Errorf("failed to read CRC: %w", err)
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(file, payload); err != nil {
			// Truncated write at the tail - stop reading
			break
		}

		if crc32.ChecksumIEEE(payload) != crc {
			continue
		}

		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// listSegments returns segment paths in ascending segment id order.
func listSegments(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read journal directory: %w", err)
	}

	type seg struct {
		id   uint64
		path string
	}
	var segs []seg
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if id, ok := parseSegmentName(file.Name()); ok {
			segs = append(segs, seg{id: id, path: filepath.Join(dir, file.Name())})
		}
	}
	sort.Slice(segs, func(i, k int) bool { return segs[i].id < segs[k].id })

	paths := make([]string, len(segs))
	for i, s := range segs {
		paths[i] = s.path
	}
	return paths, nil
}
