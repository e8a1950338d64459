package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"github.com/taptoon/taptoon-fe/internal/upload"
	"github.com/taptoon/taptoon-fe/internal/wire"
)

var _ upload.Backend = (*Client)(nil)

type uploadTargetPayload struct {
	UploadingImageURL string  `json:"uploading_image_url"`
	ImageEntityID     wire.ID `json:"image_entity_id"`
}

// RequestUploadTarget asks for a presigned upload URL and the image id it
// will be known by. Chat images go through the room endpoint; post and
// portfolio images through /images/upload.
func (c *Client) RequestUploadTarget(ctx context.Context, scope upload.Scope, ownerID, fileName string) (upload.Target, error) {
	const op = "request upload target"

	var (
		data json.RawMessage
		err  error
	)
	switch scope {
	case upload.ScopeChat:
		q := url.Values{"folderPath": {"chat"}, "fileName": {fileName}}
		data, err = c.call(ctx, op, http.MethodPost, roomPath(ownerID, "image-upload"), q, nil)
	case upload.ScopePost, upload.ScopePortfolio:
		dir, ok := c.opts.UploadDirectories[string(scope)]
		if !ok {
			return upload.Target{}, &chaterr.ValidationError{Field: "directory", Reason: "no upload directory configured for " + string(scope)}
		}
		data, err = c.call(ctx, op, http.MethodPost, "/images/upload", nil, map[string]any{
			"directory": dir,
			"id":        wire.ID(ownerID),
			"file_type": c.opts.ImageFileType,
			"file_name": fileName,
		})
	default:
		return upload.Target{}, &chaterr.ValidationError{Field: "scope", Reason: "unknown upload scope " + string(scope)}
	}
	if err != nil {
		return upload.Target{}, err
	}

	var p uploadTargetPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return upload.Target{}, &chaterr.DecodeError{Source: op, Err: err}
	}
	if p.UploadingImageURL == "" {
		return upload.Target{}, &chaterr.DecodeError{Source: op, Field: "uploading_image_url"}
	}
	return upload.Target{UploadURL: p.UploadingImageURL, ImageID: string(p.ImageEntityID)}, nil
}

// PutBytes transfers data to a presigned URL. The URL carries its own
// authorization, so no bearer token is sent.
func (c *Client) PutBytes(ctx context.Context, uploadURL, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &chaterr.APIError{Op: "upload bytes", Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// CancelUpload releases an uploaded chat image that will not be sent.
func (c *Client) CancelUpload(ctx context.Context, roomID, imageID string) error {
	_, err := c.call(ctx, "cancel upload", http.MethodPost, roomPath(roomID, "image", url.PathEscape(imageID), "cancel"), nil, nil)
	return err
}
