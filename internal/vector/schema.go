package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClass is the collection name used when none is configured.
const DefaultClass = "HtmlDocument"

// SchemaClient defines the interface for Weaviate schema operations
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
	DeleteClass(ctx context.Context, className string) error
}

// Properties lists the passage properties stored alongside each vector.
func Properties() []*models.Property {
	return []*models.Property{
		{Name: "content", DataType: []string{"text"}},
		{Name: "chunkId", DataType: []string{"string"}},
		{Name: "documentId", DataType: []string{"string"}},
		{Name: "title", DataType: []string{"text"}},
		{Name: "url", DataType: []string{"string"}},
		{Name: "domain", DataType: []string{"string"}},
		{Name: "filePath", DataType: []string{"string"}},
		{Name: "filename", DataType: []string{"string"}},
		{Name: "sizeBytes", DataType: []string{"int"}},
		{Name: "capturedAt", DataType: []string{"date"}},
		{Name: "contentLength", DataType: []string{"int"}},
		{Name: "chunkIndex", DataType: []string{"int"}},
		{Name: "totalChunks", DataType: []string{"int"}},
		{Name: "chunkSize", DataType: []string{"int"}},
		{Name: "extra", DataType: []string{"text"}}, // JSON object
	}
}

// EnsureSchema creates className if it does not exist and adds any missing properties.
func EnsureSchema(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}

	properties := Properties()

	if !exists {
		class := &models.Class{
			Class:       className,
			Description: "A chunk of a captured HTML page",
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": "cosine",
			},
			Properties: properties,
		}
		return client.CreateClass(ctx, class)
	}

	// Class exists, check for missing properties
	class, err := client.GetClass(ctx, className)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, className, p); err != nil {
				return err
			}
		}
	}

	return nil
}

// ResetClass drops className when present and recreates it empty.
func ResetClass(ctx context.Context, client SchemaClient, className string) error {
	exists, err := client.ClassExists(ctx, className)
	if err != nil {
		return err
	}
	if exists {
		if err := client.DeleteClass(ctx, className); err != nil {
			return err
		}
	}
	return EnsureSchema(ctx, client, className)
}
