// Package vectorstore talks to a remote Chroma deployment over its v2 REST
// API and provides the batched index writer used by ingestion and rebuilds.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrCollectionNotFound is returned when a named collection does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// Config locates the Chroma deployment.
type Config struct {
	Host     string
	Port     string
	Tenant   string
	Database string
}

// Client is a thin Chroma v2 REST client scoped to one tenant/database.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client. Tenant and database default to Chroma's
// defaults when empty.
func NewClient(cfg Config) *Client {
	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "default_tenant"
	}
	database := cfg.Database
	if database == "" {
		database = "default_database"
	}
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%s/api/v2/tenants/%s/databases/%s", cfg.Host, cfg.Port, tenant, database),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Collection is a handle to one remote collection.
type Collection struct {
	client *Client
	ID     string
	Name   string
}

type collectionInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CreateCollection creates a new named collection.
func (c *Client) CreateCollection(ctx context.Context, name string) (*Collection, error) {
	var info collectionInfo
	err := c.do(ctx, http.MethodPost, "/collections", map[string]interface{}{"name": name}, &info)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", name, err)
	}
	return &Collection{client: c, ID: info.ID, Name: info.Name}, nil
}

// GetCollection loads an existing collection by name.
func (c *Client) GetCollection(ctx context.Context, name string) (*Collection, error) {
	var info collectionInfo
	err := c.do(ctx, http.MethodGet, "/collections/"+name, nil, &info)
	if err != nil {
		var se statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, ErrCollectionNotFound
		}
		return nil, fmt.Errorf("loading collection %s: %w", name, err)
	}
	return &Collection{client: c, ID: info.ID, Name: info.Name}, nil
}

// DeleteCollection removes a named collection. Deleting a collection that
// does not exist is not an error.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	err := c.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil)
	if err != nil {
		var se statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return nil
}

// RenameCollection changes a collection's name in place.
func (c *Client) RenameCollection(ctx context.Context, coll *Collection, newName string) error {
	err := c.do(ctx, http.MethodPut, "/collections/"+coll.ID, map[string]interface{}{"new_name": newName}, nil)
	if err != nil {
		return fmt.Errorf("renaming collection %s: %w", coll.Name, err)
	}
	coll.Name = newName
	return nil
}

// Add appends documents with precomputed embeddings and scalar metadata.
func (coll *Collection) Add(ctx context.Context, ids []string, documents []string, embeddings [][]float32, metadatas []map[string]interface{}) error {
	if len(ids) != len(documents) || len(ids) != len(embeddings) || len(ids) != len(metadatas) {
		return errors.New("ids, documents, embeddings and metadatas must be the same length")
	}
	body := map[string]interface{}{
		"ids":        ids,
		"documents":  documents,
		"embeddings": embeddings,
		"metadatas":  metadatas,
	}
	return coll.client.do(ctx, http.MethodPost, "/collections/"+coll.ID+"/add", body, nil)
}

// GetIDs returns the ids of entries matching the metadata filter.
func (coll *Collection) GetIDs(ctx context.Context, where map[string]interface{}) ([]string, error) {
	body := map[string]interface{}{
		"where":   where,
		"include": []string{},
	}
	var out struct {
		IDs []string `json:"ids"`
	}
	if err := coll.client.do(ctx, http.MethodPost, "/collections/"+coll.ID+"/get", body, &out); err != nil {
		return nil, err
	}
	return out.IDs, nil
}

// Delete removes the given ids. An empty list is a no-op.
func (coll *Collection) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return coll.client.do(ctx, http.MethodPost, "/collections/"+coll.ID+"/delete", map[string]interface{}{"ids": ids}, nil)
}

// Count reports the number of stored entries.
func (coll *Collection) Count(ctx context.Context) (int, error) {
	var n int
	if err := coll.client.do(ctx, http.MethodGet, "/collections/"+coll.ID+"/count", nil, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// QueryResult carries the nearest chunks for one query embedding.
type QueryResult struct {
	Documents []string
	Metadatas []map[string]interface{}
	Distances []float32
}

// Query returns the topK nearest entries to the embedding.
func (coll *Collection) Query(ctx context.Context, embedding []float32, topK int) (QueryResult, error) {
	if topK <= 0 {
		topK = 5
	}
	body := map[string]interface{}{
		"query_embeddings": [][]float32{embedding},
		"n_results":        topK,
		"include":          []string{"documents", "metadatas", "distances"},
	}
	var out struct {
		Documents [][]string                 `json:"documents"`
		Metadatas [][]map[string]interface{} `json:"metadatas"`
		Distances [][]float32                `json:"distances"`
	}
	if err := coll.client.do(ctx, http.MethodPost, "/collections/"+coll.ID+"/query", body, &out); err != nil {
		return QueryResult{}, err
	}
	res := QueryResult{}
	if len(out.Documents) > 0 {
		res.Documents = out.Documents[0]
	}
	if len(out.Metadatas) > 0 {
		res.Metadatas = out.Metadatas[0]
	}
	if len(out.Distances) > 0 {
		res.Distances = out.Distances[0]
	}
	return res, nil
}

// statusError carries the HTTP status for error classification.
type statusError struct {
	code int
	body string
}

func (e statusError) Error() string {
	return fmt.Sprintf("vector store status %d: %s", e.code, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return statusError{code: resp.StatusCode, body: string(b)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
