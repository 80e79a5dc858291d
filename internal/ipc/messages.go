// Package ipc implements the worker IPC protocol (SPEC_FULL.md C6 / §6.4):
// a bidirectional, in-order, newline-delimited JSON message stream between
// the dispatcher and a worker subprocess.
//
// The encode/decode shape is grounded directly on
// chromiumos/tast/internal/control: a closed set of message types is
// marshaled through a single "union" struct with one pointer field per
// type, avoiding reflection-based dynamic dispatch while still allowing
// json.Decoder to infer which type arrived.
package ipc

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/paratest-dev/paratest/internal/errs"
	"github.com/paratest-dev/paratest/internal/model"
)

// Msg is implemented by every message type exchanged over the channel.
type Msg interface {
	isMsg()
}

// Init is sent once, parent to worker, to start the request loop.
type Init struct {
	WorkerIndex  int               `json:"workerIndex"`
	ProjectIndex int               `json:"projectIndex"`
	FixtureHash  string            `json:"fixtureHash"`
	Config       map[string]string `json:"config,omitempty"`
}

func (*Init) isMsg() {}

// Run assigns one test to a worker that has already been initialized.
type Run struct {
	TestID         string        `json:"testId"`
	FixtureHash    string        `json:"fixtureHash"`
	Timeout        time.Duration `json:"timeout"`
	Retry          int           `json:"retry"`
	ExpectedStatus model.Status  `json:"expectedStatus"`
}

func (*Run) isMsg() {}

// Stop tells a worker to tear down its worker-scope fixtures and exit.
type Stop struct{}

func (*Stop) isMsg() {}

// Ready is sent once a worker has processed Init and is waiting for Run.
type Ready struct{}

func (*Ready) isMsg() {}

// TestBegin announces that a worker has started running the given test.
type TestBegin struct {
	TestID string `json:"testId"`
}

func (*TestBegin) isMsg() {}

// Stream identifies which output stream a Stdio message carries.
type Stream string

// The two streams a worker can forward from a running test.
const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Stdio forwards a chunk of a test's captured output.
type Stdio struct {
	TestID string `json:"testId"`
	Stream Stream `json:"stream"`
	Data   string `json:"data"`
}

func (*Stdio) isMsg() {}

// TestEnd reports the outcome of one attempt of a test.
type TestEnd struct {
	TestID   string           `json:"testId"`
	Status   model.Status     `json:"status"`
	Error    *model.TestError `json:"error,omitempty"`
	Duration time.Duration    `json:"duration"`
}

func (*TestEnd) isMsg() {}

// TeardownError reports a worker-scope fixture teardown failure that could
// not be attributed to any in-flight test.
type TeardownError struct {
	Error string `json:"error"`
}

func (*TeardownError) isMsg() {}

// Done tells the parent the worker has nothing further to report.
// PendingWorker is true if the worker is discarding itself after a test
// failure and is only waiting for a Stop to exit cleanly.
type Done struct {
	PendingWorker bool `json:"pendingWorker,omitempty"`
}

func (*Done) isMsg() {}

// Heartbeat is sent periodically so the dispatcher can distinguish a silent
// worker from a dead one.
type Heartbeat struct {
	Time time.Time `json:"time"`
}

func (*Heartbeat) isMsg() {}

// union aids marshaling/unmarshaling heterogeneous messages through a
// single json.Encoder/Decoder pair.
type union struct {
	Init          *Init          `json:"init,omitempty"`
	Run           *Run           `json:"run,omitempty"`
	Stop          *Stop          `json:"stop,omitempty"`
	Ready         *Ready         `json:"ready,omitempty"`
	TestBegin     *TestBegin     `json:"testBegin,omitempty"`
	Stdio         *Stdio         `json:"stdio,omitempty"`
	TestEnd       *TestEnd       `json:"testEnd,omitempty"`
	TeardownError *TeardownError `json:"teardownError,omitempty"`
	Done          *Done          `json:"done,omitempty"`
	Heartbeat     *Heartbeat     `json:"heartbeat,omitempty"`
}

// Writer serializes Msg values as newline-delimited JSON. It is safe to call
// Write concurrently.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriter returns a Writer that writes to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Write encodes and sends msg.
func (w *Writer) Write(msg Msg) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch v := msg.(type) {
	case *Init:
		return w.enc.Encode(&union{Init: v})
	case *Run:
		return w.enc.Encode(&union{Run: v})
	case *Stop:
		return w.enc.Encode(&union{Stop: v})
	case *Ready:
		return w.enc.Encode(&union{Ready: v})
	case *TestBegin:
		return w.enc.Encode(&union{TestBegin: v})
	case *Stdio:
		return w.enc.Encode(&union{Stdio: v})
	case *TestEnd:
		return w.enc.Encode(&union{TestEnd: v})
	case *TeardownError:
		return w.enc.Encode(&union{TeardownError: v})
	case *Done:
		return w.enc.Encode(&union{Done: v})
	case *Heartbeat:
		return w.enc.Encode(&union{Heartbeat: v})
	default:
		return errs.Errorf("ipc: unable to encode message of unknown type %T", msg)
	}
}

// Reader reads Msg values from a newline-delimited JSON stream. Reader is
// not safe for concurrent use; the protocol guarantees only one reader per
// direction.
type Reader struct {
	dec *json.Decoder
}

// NewReader returns a Reader reading from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: json.NewDecoder(r)}
}

// More reports whether another message is available without blocking on a
// partial read.
func (r *Reader) More() bool {
	return r.dec.More()
}

// Read decodes and returns the next message.
func (r *Reader) Read() (Msg, error) {
	var u union
	if err := r.dec.Decode(&u); err != nil {
		return nil, errs.Wrap(err, "ipc: unable to decode message")
	}
	switch {
	case u.Init != nil:
		return u.Init, nil
	case u.Run != nil:
		return u.Run, nil
	case u.Stop != nil:
		return u.Stop, nil
	case u.Ready != nil:
		return u.Ready, nil
	case u.TestBegin != nil:
		return u.TestBegin, nil
	case u.Stdio != nil:
		return u.Stdio, nil
	case u.TestEnd != nil:
		return u.TestEnd, nil
	case u.TeardownError != nil:
		return u.TeardownError, nil
	case u.Done != nil:
		return u.Done, nil
	case u.Heartbeat != nil:
		return u.Heartbeat, nil
	default:
		return nil, errs.New("ipc: decoded message of unknown type")
	}
}
