package rpc

// Verb names one operation a worker performs on a registered path.
type Verb string

const (
	VerbRegister Verb = "register"
	VerbRead     Verb = "read"
	VerbWrite    Verb = "write"
	VerbTruncate Verb = "truncate"
	VerbGetSize  Verb = "getSize"
	VerbFlush    Verb = "flush"
	VerbClose    Verb = "close"
)

// Verbs lists every verb a worker understands.
var Verbs = []Verb{VerbRegister, VerbRead, VerbWrite, VerbTruncate, VerbGetSize, VerbFlush, VerbClose}

// Args carries the arguments of a request. Only the fields a verb needs are
// set, data for a write travels in the envelope's transfer list.
type Args struct {
	Path    string `json:"path"`
	Offset  int64  `json:"offset,omitempty"`
	Size    int64  `json:"size,omitempty"`
	NewSize int64  `json:"newSize,omitempty"`
	// At is the write offset. A nil value appends at the current end of the
	// file.
	At *int64 `json:"at,omitempty"`
}

// Request is the outbound message posted to a worker.
type Request struct {
	CorrelationID uint64 `json:"correlationId"`
	Verb          Verb   `json:"verb"`
	Args          Args   `json:"args"`
}

// ResponseKind tells a successful response apart from a failed one.
type ResponseKind string

const (
	KindSuccess ResponseKind = "success"
	KindError   ResponseKind = "error"
)

// Response is the inbound message a worker posts back for every request.
type Response struct {
	CorrelationID uint64       `json:"correlationId"`
	Kind          ResponseKind `json:"kind"`
	Value         int64        `json:"value,omitempty"`
	// Class, Message and Request are only set on error responses. Request is
	// the originating request serialized as JSON.
	Class   string `json:"class,omitempty"`
	Message string `json:"message,omitempty"`
	Request string `json:"request,omitempty"`
}

// Envelope is what actually travels between a slot and its worker: one
// encoded message plus the buffers whose ownership moves with it.
type Envelope struct {
	Payload  []byte
	Transfer []*Buffer
}

// Release drops every buffer in the transfer list. Used when an envelope is
// discarded without being handled.
func (e Envelope) Release() {
	for _, b := range e.Transfer {
		b.Release()
	}
}
