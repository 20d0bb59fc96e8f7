package rpcserver

import (
	"time"

	"github.com/oliana-project/oliana/internal/hwinfo"
	"github.com/oliana-project/oliana/internal/jobfs"
)

const (
	textNextTokenBudget   = 3 * time.Second
	imageResultBudget     = 24 * time.Second
	imageStableSampleWait = 4 * time.Second
)

type textBeginArgs struct {
	SystemPrompt string `cbor:"system_prompt"`
	UserPrompt   string `cbor:"user_prompt"`
}

type imageBeginArgs struct {
	Prompt            string  `cbor:"prompt"`
	NegativePrompt    string  `cbor:"negative_prompt"`
	GuidanceScale     float32 `cbor:"guidance_scale"`
	NumInferenceSteps uint32  `cbor:"num_inference_steps"`
}

// handleTextBegin implements generate_text_begin: allocate the next text
// nonce, reset the read cursor, clear any stale output for that nonce,
// and publish the input descriptor.
func (g *Gateway) handleTextBegin(sess *sessionState, args textBeginArgs) string {
	g.touchActivity()

	nonce := jobfs.AllocateNonce(g.textWorkdir, g.nextTextNonceHint(sess))
	if err := jobfs.RemoveStaleOutputs(g.textWorkdir, nonce); err != nil {
		g.log.Warn("remove stale text outputs failed", "err", err)
		return err.Error()
	}
	if err := jobfs.PublishInput(g.textWorkdir, nonce, jobfs.TextInput{
		SystemPrompt: args.SystemPrompt,
		UserPrompt:   args.UserPrompt,
	}); err != nil {
		g.log.Warn("publish text input failed", "err", err)
		return err.Error()
	}

	sess.sess.SetTextNonce(nonce)
	return ""
}

// handleTextNextToken implements generate_text_next_token: wait for the
// output file, then return any unread bytes, or nil once the done
// sentinel is observed with nothing left to read.
func (g *Gateway) handleTextNextToken(sess *sessionState) *string {
	nonce, ok := sess.sess.TextNonce()
	if !ok {
		return nil
	}
	outPath, donePath := jobfs.TextPaths(g.textWorkdir, nonce)

	result := jobfs.AwaitOutputExists(outPath, "", textNextTokenBudget)
	if result == jobfs.Timeout {
		return nil
	}

	cursor := sess.sess.TextReadCursor()
	chunk, newCursor, _, err := jobfs.ReadIncremental(outPath, cursor, donePath, textNextTokenBudget)
	if err != nil {
		g.log.Warn("read incremental text failed", "err", err)
		return nil
	}
	sess.sess.AdvanceTextReadCursor(newCursor)
	if len(chunk) == 0 {
		return nil
	}
	s := string(chunk)
	return &s
}

// handleImageBegin implements generate_image_begin.
func (g *Gateway) handleImageBegin(sess *sessionState, args imageBeginArgs) string {
	g.touchActivity()

	nonce := jobfs.AllocateNonce(g.imageWorkdir, g.nextImageNonceHint(sess))
	if err := jobfs.RemoveStaleOutputs(g.imageWorkdir, nonce); err != nil {
		g.log.Warn("remove stale image outputs failed", "err", err)
		return err.Error()
	}
	if err := jobfs.PublishInput(g.imageWorkdir, nonce, jobfs.ImageInput{
		Prompt:            args.Prompt,
		NegativePrompt:    args.NegativePrompt,
		GuidanceScale:     args.GuidanceScale,
		NumInferenceSteps: args.NumInferenceSteps,
	}); err != nil {
		g.log.Warn("publish image input failed", "err", err)
		return err.Error()
	}

	sess.sess.SetImageNonce(nonce)
	return ""
}

// handleImageResultExists implements generate_image_result_exists: a
// non-blocking existence check for either artifact.
func (g *Gateway) handleImageResultExists(sess *sessionState) bool {
	nonce, ok := sess.sess.ImageNonce()
	if !ok {
		return false
	}
	pngPath, errPath := jobfs.ImagePaths(g.imageWorkdir, nonce)
	return jobfs.AwaitOutputExists(pngPath, errPath, 0) != jobfs.Timeout
}

// handleImageGetResult implements generate_image_get_result.
func (g *Gateway) handleImageGetResult(sess *sessionState) []byte {
	nonce, ok := sess.sess.ImageNonce()
	if !ok {
		return nil
	}
	pngPath, errPath := jobfs.ImagePaths(g.imageWorkdir, nonce)

	result := jobfs.AwaitOutputExists(pngPath, errPath, imageResultBudget)
	switch result {
	case jobfs.SuccessFile:
		bytes, err := jobfs.ReadCompletePNG(pngPath, imageStableSampleWait)
		if err != nil {
			g.log.Warn("read complete png failed", "err", err)
			return nil
		}
		return bytes
	case jobfs.ErrorFile:
		msg, err := readErrorMessage(errPath)
		if err == nil {
			g.log.Warn("image worker reported error", "message", msg)
		}
		return nil
	default:
		return nil
	}
}

// handleListHardwareDevices implements fetch_pci_hw_device_names.
func (g *Gateway) handleListHardwareDevices() []string {
	devices, err := hwinfo.ListGPUDeviceNames()
	if err != nil {
		g.log.Warn("pci enumeration failed", "err", err)
		return nil
	}
	return devices
}

func (g *Gateway) nextTextNonceHint(sess *sessionState) uint64 {
	if n, ok := sess.sess.TextNonce(); ok {
		return n + 1
	}
	return 0
}

func (g *Gateway) nextImageNonceHint(sess *sessionState) uint64 {
	if n, ok := sess.sess.ImageNonce(); ok {
		return n + 1
	}
	return 0
}
