package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"meeting-assistant-go/internal/types"
)

// maxFieldBytes bounds the non-file multipart fields.
const maxFieldBytes = 64 << 10

type jsonRequest struct {
	AudioData       string `json:"audioData"`
	AudioFormat     string `json:"audioFormat"`
	Filename        string `json:"filename"`
	SourceLanguage  string `json:"sourceLanguage"`
	TargetLanguage  string `json:"targetLanguage"`
	PreMeetingNotes string `json:"preMeetingNotes"`
}

func uuidString() string { return uuid.NewString() }

// parse reads a multipart upload or a JSON body with base64 audio. The body
// is streamed so uploads never touch disk.
func (h *Handler) parse(w http.ResponseWriter, r *http.Request) (types.ProcessRequest, *types.Error) {
	if h.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "application/json"
	}
	var (
		req  types.ProcessRequest
		perr *types.Error
	)
	switch mediaType {
	case "multipart/form-data":
		req, perr = parseMultipart(r)
	case "application/json", "text/json":
		req, perr = parseJSON(r)
	default:
		return req, types.InputErrorf(types.CodeInvalidRequest, "unsupported content type %q", mediaType)
	}
	if perr != nil {
		return req, perr
	}
	if len(req.Audio.Data) == 0 {
		return req, types.InputErrorf(types.CodeEmptyAudio, "no audio provided")
	}
	return req, nil
}

func parseMultipart(r *http.Request) (types.ProcessRequest, *types.Error) {
	var req types.ProcessRequest
	mr, err := r.MultipartReader()
	if err != nil {
		return req, types.InputErrorf(types.CodeInvalidRequest, "read multipart body: %v", err)
	}
	sawAudio := false
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return req, bodyError(err)
		}
		switch part.FormName() {
		case "audio", "file":
			data, err := io.ReadAll(part)
			if err != nil {
				return req, bodyError(err)
			}
			sawAudio = true
			req.Audio.Data = data
			req.Audio.Filename = part.FileName()
			if req.Audio.Format == "" {
				req.Audio.Format = part.Header.Get("Content-Type")
			}
		case "audioFormat":
			v, err := field(part)
			if err != nil {
				return req, err
			}
			if v != "" {
				req.Audio.Format = v
			}
		case "sourceLanguage":
			v, err := field(part)
			if err != nil {
				return req, err
			}
			req.Languages.Source = v
		case "targetLanguage":
			v, err := field(part)
			if err != nil {
				return req, err
			}
			req.Languages.Target = v
		case "preMeetingNotes":
			v, err := field(part)
			if err != nil {
				return req, err
			}
			req.PreMeetingNotes = v
		}
		_ = part.Close()
	}
	if !sawAudio {
		return req, types.InputErrorf(types.CodeInvalidRequest, "missing audio file field")
	}
	return req, nil
}

func field(p *multipart.Part) (string, *types.Error) {
	b, err := io.ReadAll(io.LimitReader(p, maxFieldBytes+1))
	if err != nil {
		return "", bodyError(err)
	}
	if len(b) > maxFieldBytes {
		return "", types.InputErrorf(types.CodeInvalidRequest, "field %q is too long", p.FormName())
	}
	return strings.TrimSpace(string(b)), nil
}

func parseJSON(r *http.Request) (types.ProcessRequest, *types.Error) {
	var req types.ProcessRequest
	var body jsonRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return req, bodyError(err)
		}
		return req, types.InputErrorf(types.CodeInvalidRequest, "invalid JSON body: %v", err)
	}
	if strings.TrimSpace(body.AudioData) == "" {
		return req, types.InputErrorf(types.CodeInvalidRequest, "audioData is required")
	}
	data, format, err := decodeAudioData(body.AudioData)
	if err != nil {
		return req, types.InputErrorf(types.CodeInvalidRequest, "audioData is not valid base64: %v", err)
	}
	if body.AudioFormat != "" {
		format = body.AudioFormat
	}
	req.Audio = types.AudioInput{Data: data, Format: format, Filename: body.Filename}
	req.Languages = types.LanguageHints{Source: body.SourceLanguage, Target: body.TargetLanguage}
	req.PreMeetingNotes = body.PreMeetingNotes
	return req, nil
}

// decodeAudioData accepts plain base64 or a data URL
// ("data:audio/wav;base64,..."), returning the data URL's MIME type.
func decodeAudioData(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var format string
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", errors.New("malformed data URL")
		}
		format = strings.TrimSuffix(strings.TrimPrefix(s[:comma], "data:"), ";base64")
		s = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	return data, format, err
}

func bodyError(err error) *types.Error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return types.InputErrorf(types.CodePayloadTooLarge, "request body exceeds %d bytes", mbe.Limit)
	}
	return types.NewError(types.KindInputError, types.CodeInvalidRequest, fmt.Sprintf("read request body: %v", err), nil)
}
