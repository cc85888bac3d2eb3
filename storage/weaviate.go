package storage

import (
	"context"
	"net/http"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/fault"
	"github.com/weaviate/weaviate/entities/models"

	"ewintr.nl/scribe/model"
)

const (
	className = "Transcript"
)

// Weaviate indexes completed transcripts for semantic search.
type Weaviate struct {
	client *weaviate.Client
}

func NewWeaviate(host, weaviateApiKey, openaiApiKey string) (*Weaviate, error) {
	config := weaviate.Config{
		Scheme:     "https",
		Host:       host,
		AuthConfig: auth.ApiKey{Value: weaviateApiKey},
		Headers: map[string]string{
			"X-OpenAI-Api-Key": openaiApiKey,
		},
	}

	c, err := weaviate.NewClient(config)
	if err != nil {
		return nil, err
	}

	return &Weaviate{client: c}, nil
}

func (w *Weaviate) ResetSchema() error {

	// delete old
	if err := w.client.Schema().ClassDeleter().WithClassName(className).Do(context.Background()); err != nil {
		// Weaviate will return a 400 if the class does not exist, so this is allowed, only return an error if it's not a 400
		if status, ok := err.(*fault.WeaviateClientError); ok && status.StatusCode != http.StatusBadRequest {
			return err
		}
	}

	// create new
	classObj := &models.Class{
		Class:      className,
		Vectorizer: "text2vec-openai",
		ModuleConfig: map[string]any{
			"text2vec-openai": map[string]any{
				"model":        "ada",
				"modelVersion": "002",
				"type":         "text",
			},
		},
	}

	return w.client.Schema().ClassCreator().WithClass(classObj).Do(context.Background())
}

type transcriptProperties struct {
	URL      string  `json:"url"`
	Platform string  `json:"platform"`
	VideoID  string  `json:"videoId"`
	Title    string  `json:"title"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
}

func (w *Weaviate) Index(ctx context.Context, extraction *model.Extraction) error {
	id := extraction.ID.String()
	props := transcriptProperties{
		URL:      extraction.Video.RawURL,
		Platform: string(extraction.Video.Platform),
		VideoID:  extraction.Video.ID,
		Title:    extraction.Metadata.Title,
		Language: extraction.Transcript.Language,
		Duration: extraction.Transcript.Duration,
		Text:     extraction.Transcript.Text,
	}

	// check it already exists
	exists, err := w.client.Data().
		Checker().
		WithID(id).
		WithClassName(className).
		Do(ctx)
	if err != nil {
		return err
	}

	if exists {
		return w.client.Data().
			Updater().
			WithID(id).
			WithClassName(className).
			WithProperties(props).
			Do(ctx)
	}

	_, err = w.client.Data().
		Creator().
		WithClassName(className).
		WithID(id).
		WithProperties(props).
		Do(ctx)

	return err
}
