// Package generator provides the audio backends that render delivered lines:
// text-to-speech [dialogue.Synthesizer] implementations for ElevenLabs and
// Coqui TTS, a [Fallback] synthesizer that fails over between them, and a
// [Command] that runs an external lip-sync tool or player.
//
// Every backend writes below an output directory. Request paths are the
// slash-separated voice paths produced by voicepath and are localised with
// [filepath.FromSlash] before use.
package generator

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/MrWong99/voicebank/internal/dialogue"
)

// localPath joins root and a slash-separated voice path.
func localPath(root, p string) string {
	return filepath.Join(root, filepath.FromSlash(p))
}

// localPaths localises every path of p below root.
func localPaths(root string, p dialogue.Paths) dialogue.Paths {
	return dialogue.Paths{
		Wav: localPath(root, p.Wav),
		Lip: localPath(root, p.Lip),
		Fuz: localPath(root, p.Fuz),
	}
}

// folderOf returns the voice folder of a request, which is the directory
// holding its files.
func folderOf(req dialogue.Request) string {
	return path.Base(path.Dir(req.Paths.Wav))
}

// writeFile writes data to name atomically, creating parent directories.
// A concurrent reader sees either the previous file or the complete new one.
func writeFile(name string, data []byte) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), name)
}

// voiceMap maps voice folders to backend voice IDs.
type voiceMap struct {
	byFolder map[string]string
	fallback string
}

func (m voiceMap) lookup(req dialogue.Request) string {
	if id, ok := m.byFolder[folderOf(req)]; ok && id != "" {
		return id
	}
	return m.fallback
}
