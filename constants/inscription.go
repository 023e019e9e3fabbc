package constants

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	AppName    = "kins"
	ProtocolId = "kins"

	// OneCoin is the number of koinu in one whole coin.
	OneCoin = 100_000_000

	// MaxChunkSize is the largest single script data push used for
	// inscription content. Stays under relay and indexing policy limits.
	MaxChunkSize = 240

	// MaxInscriptionSize bounds the total payload embedded in one reveal.
	MaxInscriptionSize = 400_000

	// MaxRevealScriptSize bounds the assembled reveal script.
	MaxRevealScriptSize = 450_000

	// MaxCommitInputs is the most wallet inputs a single commit transaction
	// may consume before the planner introduces a hop segment.
	MaxCommitInputs = 50

	// PerTxBaseFee is the flat network fee charged per transaction, in koinu.
	PerTxBaseFee = 1_000_000

	// RevealFeePadding absorbs signature size variance in the reveal fee.
	RevealFeePadding = 100_000

	// DustLimit is the smallest output value relayed by the network.
	DustLimit = 100_000

	DefaultPostage = 100_000

	// DefaultFeeRatePerKB is used when the node declines to estimate.
	DefaultFeeRatePerKB = 1_000_000

	InscriptionIdDelimiter = "i"
	OutpointDelimiter      = ":"
	IdRegexpContent        = `^[a-z0-9]{64}%s\d+$`
)

var (
	InscriptionIdRegexp = regexp.MustCompile(fmt.Sprintf(IdRegexpContent, InscriptionIdDelimiter))
	OutpointRegexp      = regexp.MustCompile(fmt.Sprintf(IdRegexpContent, OutpointDelimiter))
)

type ContentType string

func (t ContentType) Bytes() []byte {
	return []byte(t)
}

func (t ContentType) String() string {
	return string(t)
}

const (
	ContentTypeJson        ContentType = "application/json"
	ContentTypeOctetStream ContentType = "application/octet-stream"
	ContentTypePdf         ContentType = "application/pdf"
	ContentTypeAudioFlac   ContentType = "audio/flac"
	ContentTypeAudioMpeg   ContentType = "audio/mpeg"
	ContentTypeAudioWav    ContentType = "audio/wav"
	ContentTypeImageApng   ContentType = "image/apng"
	ContentTypeImageGif    ContentType = "image/gif"
	ContentTypeImageJpeg   ContentType = "image/jpeg"
	ContentTypeImagePng    ContentType = "image/png"
	ContentTypeImageSvgXml ContentType = "image/svg+xml"
	ContentTypeImageWebp   ContentType = "image/webp"
	ContentTypeTextCss     ContentType = "text/css"
	ContentTypeTextHtml    ContentType = "text/html;charset=utf-8"
	ContentTypeTextJs      ContentType = "text/javascript"
	ContentTypeTextMd      ContentType = "text/markdown;charset=utf-8"
	ContentTypeTextPlain   ContentType = "text/plain;charset=utf-8"
	ContentTypeVideoMp4    ContentType = "video/mp4"
	ContentTypeVideoWebm   ContentType = "video/webm"
)

type BrotliMode int

const (
	BrotliModeGeneric BrotliMode = 0
	BrotliModeText    BrotliMode = 1
)

type Media struct {
	ContentType ContentType
	BrotliMode  BrotliMode
	Extensions  []string
}

var Medias = []Media{
	{ContentTypeJson, BrotliModeText, []string{"json"}},
	{ContentTypeOctetStream, BrotliModeGeneric, []string{"bin"}},
	{ContentTypePdf, BrotliModeGeneric, []string{"pdf"}},
	{ContentTypeAudioFlac, BrotliModeGeneric, []string{"flac"}},
	{ContentTypeAudioMpeg, BrotliModeGeneric, []string{"mp3"}},
	{ContentTypeAudioWav, BrotliModeGeneric, []string{"wav"}},
	{ContentTypeImageApng, BrotliModeGeneric, []string{"apng"}},
	{ContentTypeImageGif, BrotliModeGeneric, []string{"gif"}},
	{ContentTypeImageJpeg, BrotliModeGeneric, []string{"jpg", "jpeg"}},
	{ContentTypeImagePng, BrotliModeGeneric, []string{"png"}},
	{ContentTypeImageSvgXml, BrotliModeText, []string{"svg"}},
	{ContentTypeImageWebp, BrotliModeGeneric, []string{"webp"}},
	{ContentTypeTextCss, BrotliModeText, []string{"css"}},
	{ContentTypeTextHtml, BrotliModeText, []string{"html", "htm"}},
	{ContentTypeTextJs, BrotliModeText, []string{"js"}},
	{ContentTypeTextMd, BrotliModeText, []string{"md"}},
	{ContentTypeTextPlain, BrotliModeText, []string{"txt"}},
	{ContentTypeVideoMp4, BrotliModeGeneric, []string{"mp4"}},
	{ContentTypeVideoWebm, BrotliModeGeneric, []string{"webm"}},
}

// ContentTypeForExtension resolves the content type embedded in an envelope
// from a file extension. Unknown extensions are rejected before any chain
// work begins.
func ContentTypeForExtension(ext string) (ContentType, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, media := range Medias {
		for _, e := range media.Extensions {
			if e == ext {
				return media.ContentType, true
			}
		}
	}
	return "", false
}
