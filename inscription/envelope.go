package inscription

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/txscript"

	"github.com/koinu-labs/kins/constants"
)

// Optional header fields between the content type and the body chunks, each
// a small number push followed by a data push.
const (
	metadataTag = 5
	encodingTag = 9
)

// RevealScript is the assembled inscription envelope: protocol marker, chunk
// count, content type, optional metadata, then the payload as ordered script
// data pushes. The whole envelope sits in an OP_FALSE OP_IF branch so it
// never executes; it only travels with the spend.
type RevealScript struct {
	script      []byte
	chunks      [][]byte
	contentType constants.ContentType
}

// EnvelopeOption modifies envelope construction.
type EnvelopeOption func(*envelopeOptions)

type envelopeOptions struct {
	metadata []byte
	encoding string
}

// WithMetadata embeds CBOR metadata into the envelope.
func WithMetadata(metadata []byte) EnvelopeOption {
	return func(o *envelopeOptions) {
		o.metadata = metadata
	}
}

// WithContentEncoding records the payload's transfer encoding, "br" for
// brotli-compressed bodies.
func WithContentEncoding(encoding string) EnvelopeOption {
	return func(o *envelopeOptions) {
		o.encoding = encoding
	}
}

// SplitChunks cuts a payload into script-safe pushes of at most MaxChunkSize
// bytes. Concatenating the chunks reproduces the payload exactly.
func SplitChunks(payload []byte) [][]byte {
	chunks := make([][]byte, 0, len(payload)/constants.MaxChunkSize+1)
	for len(payload) > constants.MaxChunkSize {
		chunks = append(chunks, payload[:constants.MaxChunkSize])
		payload = payload[constants.MaxChunkSize:]
	}
	if len(payload) > 0 {
		chunks = append(chunks, payload)
	}
	return chunks
}

// appendDataPush appends data as a minimal canonical script push.
// txscript.ScriptBuilder enforces the consensus script size cap, which an
// inscription envelope legitimately exceeds, so pushes are encoded by hand
// here. The encoding mirrors what the script tokenizer accepts on the parse
// side.
func appendDataPush(script, data []byte) []byte {
	n := len(data)
	switch {
	case n == 0:
		return append(script, txscript.OP_0)
	case n <= 75:
		script = append(script, byte(txscript.OP_DATA_1-1+n))
	case n <= 0xff:
		script = append(script, txscript.OP_PUSHDATA1, byte(n))
	case n <= 0xffff:
		script = append(script, txscript.OP_PUSHDATA2)
		script = binary.LittleEndian.AppendUint16(script, uint16(n))
	default:
		script = append(script, txscript.OP_PUSHDATA4)
		script = binary.LittleEndian.AppendUint32(script, uint32(n))
	}
	return append(script, data...)
}

// appendNumPush appends a non-negative integer as a minimal script number
// push.
func appendNumPush(script []byte, v int64) []byte {
	if v == 0 {
		return append(script, txscript.OP_0)
	}
	if v >= 1 && v <= 16 {
		return append(script, byte(txscript.OP_1-1+v))
	}
	num := make([]byte, 0, 5)
	for v > 0 {
		num = append(num, byte(v&0xff))
		v >>= 8
	}
	// sign bit must stay clear for a positive number
	if num[len(num)-1]&0x80 != 0 {
		num = append(num, 0)
	}
	return appendDataPush(script, num)
}

// BuildEnvelope turns a payload and content type into the reveal script.
// Construction is pure: the same payload and content type always produce the
// same script bytes, which is what makes retries and resume replans safe.
func BuildEnvelope(payload []byte, contentType constants.ContentType, opts ...EnvelopeOption) (*RevealScript, error) {
	options := &envelopeOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if len(payload) > constants.MaxInscriptionSize {
		return nil, ErrPayloadTooLarge
	}

	chunks := SplitChunks(payload)
	script := make([]byte, 0, len(payload)+len(chunks)*2+64)
	script = append(script, txscript.OP_FALSE, txscript.OP_IF)
	script = appendDataPush(script, []byte(constants.ProtocolId))
	script = appendNumPush(script, int64(len(chunks)))
	script = appendDataPush(script, contentType.Bytes())
	if len(options.metadata) > 0 {
		script = appendNumPush(script, metadataTag)
		script = appendDataPush(script, options.metadata)
	}
	if options.encoding != "" {
		script = appendNumPush(script, encodingTag)
		script = appendDataPush(script, []byte(options.encoding))
	}
	script = append(script, txscript.OP_0)
	for _, chunk := range chunks {
		script = appendDataPush(script, chunk)
	}
	script = append(script, txscript.OP_ENDIF)

	if len(script) > constants.MaxRevealScriptSize {
		return nil, ErrScriptTooLarge
	}
	return &RevealScript{
		script:      script,
		chunks:      chunks,
		contentType: contentType,
	}, nil
}

// Script returns the envelope script bytes.
func (r *RevealScript) Script() []byte {
	return r.script
}

// Chunks returns the ordered payload chunks.
func (r *RevealScript) Chunks() [][]byte {
	return r.chunks
}

// ContentType returns the content type embedded in the envelope.
func (r *RevealScript) ContentType() constants.ContentType {
	return r.contentType
}

// ParsedEnvelope is an envelope recovered from a reveal script.
type ParsedEnvelope struct {
	ContentType     constants.ContentType
	ContentEncoding string
	Metadata        []byte
	Body            []byte
}

// ParseEnvelope walks a script and recovers the envelope embedded in its
// OP_FALSE OP_IF branch. Returns nil when the script carries no envelope.
func ParseEnvelope(script []byte) *ParsedEnvelope {
	tokenizer := txscript.MakeScriptTokenizer(0, script)

	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_FALSE {
		return nil
	}
	if !tokenizer.Next() || tokenizer.Opcode() != txscript.OP_IF {
		return nil
	}
	if !tokenizer.Next() || !bytes.Equal(tokenizer.Data(), []byte(constants.ProtocolId)) {
		return nil
	}
	// chunk count push, only used by indexers
	if !tokenizer.Next() {
		return nil
	}
	if !tokenizer.Next() {
		return nil
	}
	envelope := &ParsedEnvelope{
		ContentType: constants.ContentType(tokenizer.Data()),
	}

	inBody := false
	for tokenizer.Next() {
		switch tokenizer.Opcode() {
		case txscript.OP_ENDIF:
			return envelope
		case txscript.OP_0:
			inBody = true
		case txscript.OP_5:
			if inBody {
				return nil
			}
			if !tokenizer.Next() {
				return nil
			}
			envelope.Metadata = tokenizer.Data()
		case txscript.OP_9:
			if inBody {
				return nil
			}
			if !tokenizer.Next() {
				return nil
			}
			envelope.ContentEncoding = string(tokenizer.Data())
		default:
			if !inBody {
				return nil
			}
			envelope.Body = append(envelope.Body, tokenizer.Data()...)
		}
	}
	return nil
}
