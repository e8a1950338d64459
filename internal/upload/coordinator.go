// Package upload tracks attachments selected for an outgoing message or a
// post/portfolio form, from upload target request to a ready remote image id.
package upload

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/taptoon/taptoon-fe/internal/bus"
	"github.com/taptoon/taptoon-fe/internal/chaterr"
	"github.com/taptoon/taptoon-fe/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scope is the kind of object attachments are uploaded for.
type Scope string

const (
	ScopeChat      Scope = "chat"
	ScopePost      Scope = "post"
	ScopePortfolio Scope = "portfolio"
)

// Limits caps the number of live attachments per scope.
type Limits struct {
	Chat      int
	Post      int
	Portfolio int
}

// DefaultLimits are 5 images per chat message and 3 per post or portfolio.
func DefaultLimits() Limits {
	return Limits{Chat: 5, Post: 3, Portfolio: 3}
}

// For returns the limit of scope.
func (l Limits) For(scope Scope) int {
	switch scope {
	case ScopePost:
		return l.Post
	case ScopePortfolio:
		return l.Portfolio
	default:
		return l.Chat
	}
}

// Status is the lifecycle state of one attachment.
type Status string

const (
	StatusUploading Status = "UPLOADING"
	StatusReady     Status = "READY"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// Attachment is a locally tracked upload. RemoteID is set once the backend
// has issued an upload target.
type Attachment struct {
	LocalRef    string
	FileName    string
	ContentType string
	RemoteID    string
	Status      Status
	Err         error
}

// File is a file chosen by the user.
type File struct {
	Name        string
	ContentType string // detected from Data when empty
	Data        []byte
}

// Target is where the bytes of one file go.
type Target struct {
	UploadURL string
	ImageID   string
}

// Backend is the REST side of uploads.
type Backend interface {
	RequestUploadTarget(ctx context.Context, scope Scope, ownerID, fileName string) (Target, error)
	PutBytes(ctx context.Context, uploadURL, contentType string, data []byte) error
	CancelUpload(ctx context.Context, roomID, imageID string) error
}

// Coordinator owns the pending attachments of one chat room or form.
type Coordinator struct {
	scope   Scope
	ownerID string
	limit   int
	backend Backend
	bus     *bus.Bus
	logger  *zap.Logger
	newRef  func() string

	mu    sync.Mutex
	items []*Attachment
}

// NewCoordinator creates a coordinator for the object ownerID of scope
// (a room id for chat). b may be nil.
func NewCoordinator(scope Scope, ownerID string, limit int, backend Backend, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		scope:   scope,
		ownerID: ownerID,
		limit:   limit,
		backend: backend,
		bus:     b,
		logger:  logger.With(zap.String("scope", string(scope)), zap.String("owner_id", ownerID)),
		newRef:  func() string { return uuid.NewString() },
	}
}

// Select validates files against the limit and the image type before any
// network call, then uploads them concurrently. A failure of one file marks
// only that attachment FAILED; the joined per-file errors are returned with
// every attachment of this selection.
func (c *Coordinator) Select(ctx context.Context, files []File) ([]Attachment, error) {
	if c.ownerID == "" {
		return nil, c.reject(&chaterr.ValidationError{Field: "owner", Reason: "no room or form to attach to"})
	}
	if len(files) == 0 {
		return nil, nil
	}

	types := make([]string, len(files))
	for i, f := range files {
		ct := f.ContentType
		if ct == "" {
			ct = mimetype.Detect(f.Data).String()
		}
		if !strings.HasPrefix(ct, "image/") {
			return nil, c.reject(&chaterr.ValidationError{
				Field:  "file",
				Reason: fmt.Sprintf("%s is %s, only images can be attached", f.Name, ct),
			})
		}
		types[i] = ct
	}

	c.mu.Lock()
	if live := c.liveLocked(); live+len(files) > c.limit {
		c.mu.Unlock()
		return nil, c.reject(&chaterr.ValidationError{
			Field:  "attachments",
			Reason: fmt.Sprintf("at most %d images, %d already attached", c.limit, live),
		})
	}
	selected := make([]*Attachment, len(files))
	for i, f := range files {
		selected[i] = &Attachment{
			LocalRef:    c.newRef(),
			FileName:    f.Name,
			ContentType: types[i],
			Status:      StatusUploading,
		}
		c.items = append(c.items, selected[i])
	}
	c.mu.Unlock()
	c.publish()

	errs := make([]error, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i := range files {
		g.Go(func() error {
			errs[i] = c.upload(gctx, selected[i], files[i].Data)
			return nil
		})
	}
	_ = g.Wait()
	c.publish()

	c.mu.Lock()
	out := make([]Attachment, len(selected))
	for i, a := range selected {
		out[i] = *a
	}
	c.mu.Unlock()
	return out, errors.Join(errs...)
}

func (c *Coordinator) upload(ctx context.Context, a *Attachment, data []byte) error {
	log := c.logger.With(zap.String("file", a.FileName), zap.String("local_ref", a.LocalRef))

	target, err := c.backend.RequestUploadTarget(ctx, c.scope, c.ownerID, a.FileName)
	if err != nil {
		err = &chaterr.UploadRequestError{FileName: a.FileName, Err: err}
		c.fail(a, err)
		log.Warn("upload target request failed", zap.Error(err))
		return err
	}

	c.mu.Lock()
	a.RemoteID = target.ImageID
	cancelled := a.Status == StatusCancelled
	c.mu.Unlock()
	if cancelled {
		// Cancelled while the target was being issued; release it.
		_ = c.cancelRemote(ctx, a)
		return nil
	}

	if err := c.backend.PutBytes(ctx, target.UploadURL, a.ContentType, data); err != nil {
		tErr := &chaterr.UploadTransferError{FileName: a.FileName, Err: err}
		var apiErr *chaterr.APIError
		if errors.As(err, &apiErr) {
			tErr.Status = apiErr.Status
		}
		c.fail(a, tErr)
		log.Warn("upload transfer failed", zap.Error(tErr))
		return tErr
	}

	c.mu.Lock()
	ready := a.Status == StatusUploading
	if ready {
		a.Status = StatusReady
	}
	c.mu.Unlock()
	if ready {
		metrics.Uploads.WithLabelValues("ready").Inc()
		log.Info("attachment ready", zap.String("image_id", target.ImageID))
	}
	return nil
}

func (c *Coordinator) fail(a *Attachment, err error) {
	c.mu.Lock()
	if a.Status == StatusUploading {
		a.Status = StatusFailed
		a.Err = err
	}
	c.mu.Unlock()
	metrics.Uploads.WithLabelValues("failed").Inc()
}

// Cancel removes an attachment locally whatever happens remotely. A chat
// attachment that already has a remote id is also cancelled on the backend;
// that failure is returned but the attachment stays removed.
func (c *Coordinator) Cancel(ctx context.Context, localRef string) error {
	c.mu.Lock()
	idx := slices.IndexFunc(c.items, func(a *Attachment) bool { return a.LocalRef == localRef })
	if idx < 0 {
		c.mu.Unlock()
		return &chaterr.ValidationError{Field: "attachment", Reason: "unknown reference " + localRef}
	}
	a := c.items[idx]
	c.items = slices.Delete(c.items, idx, idx+1)
	a.Status = StatusCancelled
	remoteID := a.RemoteID
	c.mu.Unlock()

	metrics.Uploads.WithLabelValues("cancelled").Inc()
	c.publish()
	c.logger.Info("attachment cancelled", zap.String("local_ref", localRef), zap.String("image_id", remoteID))

	if remoteID == "" {
		return nil
	}
	return c.cancelRemote(ctx, a)
}

func (c *Coordinator) cancelRemote(ctx context.Context, a *Attachment) error {
	if c.scope != ScopeChat || a.RemoteID == "" {
		return nil
	}
	if err := c.backend.CancelUpload(ctx, c.ownerID, a.RemoteID); err != nil {
		c.logger.Warn("remote cancel failed", zap.String("image_id", a.RemoteID), zap.Error(err))
		return fmt.Errorf("cancel image %s: %w", a.RemoteID, err)
	}
	return nil
}

// ReadyIDs returns the remote ids of READY attachments, in selection order.
func (c *Coordinator) ReadyIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, a := range c.items {
		if a.Status == StatusReady && a.RemoteID != "" {
			ids = append(ids, a.RemoteID)
		}
	}
	return ids
}

// Pending returns a snapshot of every tracked attachment, in selection order.
func (c *Coordinator) Pending() []Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Attachment, len(c.items))
	for i, a := range c.items {
		out[i] = *a
	}
	return out
}

// ClearSent drops the READY attachments whose remote id is in ids, without
// touching the backend. Attachments still uploading, or selected after ids
// were taken, stay tracked.
func (c *Coordinator) ClearSent(ids []string) {
	if len(ids) == 0 {
		return
	}
	c.mu.Lock()
	n := len(c.items)
	c.items = slices.DeleteFunc(c.items, func(a *Attachment) bool {
		return a.Status == StatusReady && slices.Contains(ids, a.RemoteID)
	})
	removed := n - len(c.items)
	c.mu.Unlock()
	if removed > 0 {
		c.publish()
	}
}

// Limit returns the maximum number of live attachments.
func (c *Coordinator) Limit() int {
	return c.limit
}

func (c *Coordinator) liveLocked() int {
	n := 0
	for _, a := range c.items {
		if a.Status == StatusUploading || a.Status == StatusReady {
			n++
		}
	}
	return n
}

func (c *Coordinator) reject(err error) error {
	metrics.Uploads.WithLabelValues("rejected").Inc()
	c.logger.Warn("attachment selection rejected", zap.Error(err))
	return err
}

// Change is the payload of upload.changed events.
type Change struct {
	Scope       Scope
	OwnerID     string
	Attachments []Attachment
}

func (c *Coordinator) publish() {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{
		Kind:      bus.KindUploadChanged,
		Timestamp: time.Now(),
		Payload:   Change{Scope: c.scope, OwnerID: c.ownerID, Attachments: c.Pending()},
	})
}
