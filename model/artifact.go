package model

import "sync"

// AudioArtifact is a downloaded audio file on local disk, alive until
// Release is called. Release is safe to call more than once.
type AudioArtifact struct {
	Path     string
	Duration float64
	Title    string

	once    sync.Once
	release func()
}

func NewAudioArtifact(path string, duration float64, title string, release func()) *AudioArtifact {
	return &AudioArtifact{
		Path:     path,
		Duration: duration,
		Title:    title,
		release:  release,
	}
}

func (a *AudioArtifact) Release() {
	if a == nil || a.release == nil {
		return
	}
	a.once.Do(a.release)
}
