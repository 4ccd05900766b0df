package chainlog

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/energywebfoundation/ew-link-bond/internal/domain"
	"github.com/energywebfoundation/ew-link-bond/internal/ports"
)

const (
	recordHeaderLen = 12

	indexFile   = "chain.idx"
	headFile    = "HEAD"
	payloadDir  = "payloads"
	payloadTime = "20060102T150405.000000000Z"
)

var (
	ErrInvalidStream = errors.New("chainlog: invalid stream id")
	ErrCorruptHead   = errors.New("chainlog: corrupt head")
	ErrReadOnly      = errors.New("chainlog: opened read-only")
)

// FileChain is the on-disk chain of one stream:
//
//	<root>/<stream>/payloads/<timestamp>.<ext>  one file per record
//	<root>/<stream>/chain.idx                   framed ChainEntry log
//	<root>/<stream>/HEAD                        newest entry, replaced atomically
//
// HEAD is always written last, so an interrupted append leaves the previous
// head intact. A writer opened with Open drops index entries newer than HEAD;
// a reader opened with OpenReadOnly only skips them.
type FileChain struct {
	mu        sync.Mutex
	stream    string
	dir       string
	indexPath string
	headPath  string
	codec     Codec
	now       func() time.Time
	sync      func(dir string) error
	readOnly  bool

	head    domain.ChainEntry
	hasHead bool
}

type Option func(*FileChain)

// WithCodec selects the payload serialization. JSON is the default.
func WithCodec(c Codec) Option {
	return func(fc *FileChain) {
		if c != nil {
			fc.codec = c
		}
	}
}

// WithClock overrides the time source used for payload names and entries.
func WithClock(now func() time.Time) Option {
	return func(fc *FileChain) {
		if now != nil {
			fc.now = now
		}
	}
}

// Open loads the head of stream under root and repairs the index left by an
// interrupted append. A missing directory is an empty chain; it is created by
// the first Append. Only the process appending to the stream should use Open.
func Open(root, stream string, opts ...Option) (*FileChain, error) {
	return open(root, stream, false, opts)
}

// OpenReadOnly loads the head of stream under root without touching the
// files, so it is safe while another process appends. Append fails with
// ErrReadOnly.
func OpenReadOnly(root, stream string, opts ...Option) (*FileChain, error) {
	return open(root, stream, true, opts)
}

func open(root, stream string, readOnly bool, opts []Option) (*FileChain, error) {
	if err := validateStream(stream); err != nil {
		return nil, err
	}
	dir := filepath.Join(root, stream)
	fc := &FileChain{
		stream:    stream,
		dir:       dir,
		indexPath: filepath.Join(dir, indexFile),
		headPath:  filepath.Join(dir, headFile),
		codec:     JSONCodec{},
		now:       time.Now,
		sync:      syncDir,
		readOnly:  readOnly,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(fc)
		}
	}
	if err := fc.bootstrap(); err != nil {
		return nil, err
	}
	return fc, nil
}

func validateStream(stream string) error {
	if stream == "" || stream == "." || stream == ".." ||
		strings.ContainsAny(stream, `/\`) || strings.ContainsRune(stream, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidStream, stream)
	}
	return nil
}

func (c *FileChain) bootstrap() error {
	if err := c.loadHead(); err != nil {
		return err
	}
	if c.readOnly {
		return nil
	}
	return c.scanIndex()
}

func (c *FileChain) loadHead() error {
	data, err := os.ReadFile(c.headPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var head domain.ChainEntry
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptHead, err)
	}
	if head.Seq == 0 || head.PayloadFile == "" {
		return fmt.Errorf("%w: incomplete entry", ErrCorruptHead)
	}
	if _, err := os.Stat(c.payloadPath(head.PayloadFile)); err != nil {
		return fmt.Errorf("%w: payload %s: %v", ErrCorruptHead, head.PayloadFile, err)
	}
	c.head = head
	c.hasHead = true
	return nil
}

// scanIndex truncates torn tail writes and entries HEAD never reached.
func (c *FileChain) scanIndex() error {
	stat, err := os.Stat(c.indexPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err != nil || stat.Size() == 0 {
		return nil
	}

	f, err := os.OpenFile(c.indexPath, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var offset int64
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("chainlog scan header: %w", err)
		}
		seq := binary.BigEndian.Uint64(hdr[0:8])
		length := binary.BigEndian.Uint32(hdr[8:12])
		if seq > c.head.Seq {
			break
		}
		if _, err := io.CopyN(io.Discard, reader, int64(length)); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return fmt.Errorf("chainlog scan body: %w", err)
		}
		offset += recordHeaderLen + int64(length)
	}

	if offset == stat.Size() {
		return nil
	}
	if err := f.Truncate(offset); err != nil {
		return err
	}
	return f.Sync()
}

// Stream returns the stream id the chain belongs to.
func (c *FileChain) Stream() string { return c.stream }

// Codec returns the payload codec in use.
func (c *FileChain) Codec() Codec { return c.codec }

// Head returns the newest entry, if any.
func (c *FileChain) Head() (domain.ChainEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, c.hasHead
}

// LastHash returns the digest of the head payload, or domain.NoHistory for
// an empty chain. The payload is re-read on every call.
func (c *FileChain) LastHash() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasHead {
		return domain.NoHistory, nil
	}
	data, err := os.ReadFile(c.payloadPath(c.head.PayloadFile))
	if err != nil {
		return "", fmt.Errorf("chainlog read head payload: %w", err)
	}
	return Digest(data), nil
}

// Append persists payload as the new head and returns the digest of the
// bytes written.
func (c *FileChain) Append(payload any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readOnly {
		return "", ErrReadOnly
	}

	data, err := c.codec.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("chainlog encode: %w", err)
	}
	if err := c.ensureDirs(); err != nil {
		return "", err
	}

	ts := c.now().UTC()
	name, err := c.writePayload(ts, data)
	if err != nil {
		return "", err
	}
	if err := c.sync(filepath.Join(c.dir, payloadDir)); err != nil {
		return "", fmt.Errorf("chainlog sync payload dir: %w", err)
	}

	entry := domain.ChainEntry{
		Seq:         c.head.Seq + 1,
		PayloadFile: name,
		Timestamp:   ts,
		Previous:    c.head.Seq,
	}
	if err := c.appendIndex(entry); err != nil {
		return "", err
	}
	if err := c.writeHead(entry); err != nil {
		return "", err
	}

	c.head = entry
	c.hasHead = true
	return Digest(data), nil
}

// ensureDirs creates the stream and payload directories and, the first time,
// syncs the parents that gained a new entry.
func (c *FileChain) ensureDirs() error {
	pdir := filepath.Join(c.dir, payloadDir)
	if _, err := os.Stat(pdir); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(pdir, 0o755); err != nil {
		return err
	}
	for _, dir := range []string{c.dir, filepath.Dir(c.dir)} {
		if err := c.sync(dir); err != nil {
			return fmt.Errorf("chainlog sync dir: %w", err)
		}
	}
	return nil
}

func (c *FileChain) payloadPath(name string) string {
	return filepath.Join(c.dir, payloadDir, name)
}

func (c *FileChain) writePayload(ts time.Time, data []byte) (string, error) {
	base := ts.Format(payloadTime)
	for i := 0; ; i++ {
		name := base + "." + c.codec.Ext()
		if i > 0 {
			name = fmt.Sprintf("%s-%d.%s", base, i, c.codec.Ext())
		}
		f, err := os.OpenFile(c.payloadPath(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("chainlog create payload: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("chainlog write payload: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return "", fmt.Errorf("chainlog sync payload: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", err
		}
		return name, nil
	}
}

func (c *FileChain) appendIndex(entry domain.ChainEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(c.indexPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	// entry format: [8 bytes seq][4 bytes len][len bytes json]
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], entry.Seq)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	w := bufio.NewWriter(f)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func (c *FileChain) writeHead(entry domain.ChainEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, "HEAD-*.tmp")
	if err != nil {
		return fmt.Errorf("chainlog create head: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("chainlog write head: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("chainlog sync head: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, c.headPath); err != nil {
		return fmt.Errorf("chainlog replace head: %w", err)
	}
	success = true
	return c.sync(c.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// some filesystems refuse fsync on directories
	if err := d.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		return err
	}
	return nil
}

var _ ports.ChainLog = (*FileChain)(nil)
