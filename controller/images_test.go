package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagehub/catalog"
	"imagehub/models"
	"imagehub/storage"
)

type storedObject struct {
	data        []byte
	contentType string
}

type fakeStore struct {
	objects  map[string]storedObject
	failPut  bool
	failSign bool
	deleted  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string]storedObject{}}
}

func (f *fakeStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	if f.failPut {
		return errors.New("put failed")
	}
	f.objects[key] = storedObject{data: data, contentType: contentType}
	return nil
}

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	obj, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return obj.data, nil
}

func (f *fakeStore) Head(_ context.Context, key string) (int64, string, error) {
	obj, ok := f.objects[key]
	if !ok {
		return 0, "", storage.ErrNotFound
	}
	return int64(len(obj.data)), obj.contentType, nil
}

func (f *fakeStore) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}

func (f *fakeStore) AccessURL(_ context.Context, key string) (string, error) {
	if f.failSign {
		return "", errors.New("presign failed")
	}
	return "https://bucket.example.com/" + key + "?signed=1", nil
}

func (f *fakeStore) BlobNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

type fakeAnnotator struct {
	meta models.Metadata
}

func (f *fakeAnnotator) Annotate(context.Context, []byte, string) models.Metadata {
	return f.meta
}

type fakeCatalog struct {
	records []models.ImageRecord
	failPut bool
}

func (f *fakeCatalog) Put(_ context.Context, rec *models.ImageRecord) error {
	if f.failPut {
		return errors.New("insert failed")
	}
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeCatalog) QueryByOwner(_ context.Context, owner string) ([]models.ImageRecord, error) {
	var out []models.ImageRecord
	for _, rec := range f.records {
		if rec.Owner == owner {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeCatalog) FindByOwnerAndName(_ context.Context, owner, blobName string) (*models.ImageRecord, error) {
	for _, rec := range f.records {
		if rec.Owner == owner && rec.BlobName == blobName {
			r := rec
			return &r, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func newTestRouter(ic *ImageController, owner string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("email", owner) })
	r.POST("/upload-image", ic.Upload)
	r.GET("/files", ic.ListFiles)
	r.GET("/files/:filename", ic.GetFile)
	return r
}

func multipartImage(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	hdr.Set("Content-Type", "image/jpeg")
	w, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func doUpload(t *testing.T, r http.Handler, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartImage(t, "image", filename, data)
	req := httptest.NewRequest(http.MethodPost, "/upload-image", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestUploadSuccess(t *testing.T) {
	store := newFakeStore()
	cat := &fakeCatalog{}
	ic := &ImageController{
		Store:     store,
		Annotator: &fakeAnnotator{meta: models.Metadata{Title: "A Cat", Description: "A cat photo."}},
		Catalog:   cat,
		MaxBytes:  1 << 20,
	}
	r := newTestRouter(ic, "u1")

	payload := bytes.Repeat([]byte{0xAB}, 1024)
	rec := doUpload(t, r, "cat.jpg", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success  bool   `json:"success"`
		Filename string `json:"filename"`
		URL      string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, strings.HasSuffix(resp.Filename, "_cat.jpg"), "filename %q", resp.Filename)
	assert.NotEmpty(t, resp.URL)

	// image blob and sidecar both landed
	obj, ok := store.objects[resp.Filename]
	require.True(t, ok)
	assert.Equal(t, payload, obj.data)
	assert.Equal(t, "image/jpeg", obj.contentType)

	sidecar, ok := store.objects[storage.SidecarKey(resp.Filename)]
	require.True(t, ok)
	var meta models.Metadata
	require.NoError(t, json.Unmarshal(sidecar.data, &meta))
	assert.Equal(t, "A Cat", meta.Title)

	// catalog record matches
	require.Len(t, cat.records, 1)
	assert.Equal(t, "u1", cat.records[0].Owner)
	assert.Equal(t, resp.Filename, cat.records[0].BlobName)
	assert.WithinDuration(t, time.Now(), cat.records[0].UploadedAt, time.Minute)

	// the gallery now shows exactly this file
	code, files := listFiles(t, r)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, files, 1)
	assert.Equal(t, resp.Filename, files[0].Name)
	assert.Equal(t, "A Cat", files[0].Title)
}

func TestUploadUniqueFilenames(t *testing.T) {
	ic := &ImageController{
		Store:     newFakeStore(),
		Annotator: &fakeAnnotator{meta: models.DefaultMetadata()},
		Catalog:   &fakeCatalog{},
	}
	r := newTestRouter(ic, "u1")

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		rec := doUpload(t, r, "cat.jpg", []byte("img"))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Filename string `json:"filename"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.False(t, seen[resp.Filename], "duplicate filename %q", resp.Filename)
		seen[resp.Filename] = true
	}
}

func TestUploadNoFile(t *testing.T) {
	ic := &ImageController{
		Store:     newFakeStore(),
		Annotator: &fakeAnnotator{meta: models.DefaultMetadata()},
		Catalog:   &fakeCatalog{},
	}
	r := newTestRouter(ic, "u1")

	req := httptest.NewRequest(http.MethodPost, "/upload-image", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadTooLarge(t *testing.T) {
	ic := &ImageController{
		Store:     newFakeStore(),
		Annotator: &fakeAnnotator{meta: models.DefaultMetadata()},
		Catalog:   &fakeCatalog{},
		MaxBytes:  10,
	}
	r := newTestRouter(ic, "u1")

	rec := doUpload(t, r, "big.jpg", bytes.Repeat([]byte{1}, 100))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadStorageFailureIsFatal(t *testing.T) {
	store := newFakeStore()
	store.failPut = true
	cat := &fakeCatalog{}
	ic := &ImageController{
		Store:     store,
		Annotator: &fakeAnnotator{meta: models.DefaultMetadata()},
		Catalog:   cat,
	}
	r := newTestRouter(ic, "u1")

	rec := doUpload(t, r, "cat.jpg", []byte("img"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, cat.records, "no catalog entry after storage failure")
}

func TestUploadCatalogFailureCleansUpBlobs(t *testing.T) {
	store := newFakeStore()
	cat := &fakeCatalog{failPut: true}
	ic := &ImageController{
		Store:     store,
		Annotator: &fakeAnnotator{meta: models.DefaultMetadata()},
		Catalog:   cat,
	}
	r := newTestRouter(ic, "u1")

	rec := doUpload(t, r, "cat.jpg", []byte("img"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, store.objects, "blobs should be cleaned up")
	assert.Len(t, store.deleted, 2)
}

func listFiles(t *testing.T, r http.Handler) (int, []FileEntry) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var resp struct {
		Files []FileEntry `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp.Files
}

func TestListFilesEmpty(t *testing.T) {
	ic := &ImageController{
		Store:     newFakeStore(),
		Annotator: &fakeAnnotator{meta: models.DefaultMetadata()},
		Catalog:   &fakeCatalog{},
	}
	r := newTestRouter(ic, "nobody")

	req := httptest.NewRequest(http.MethodGet, "/files", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"files": []}`, rec.Body.String())
}

func TestListFilesMergesSidecar(t *testing.T) {
	store := newFakeStore()
	store.objects["k1_cat.jpg"] = storedObject{data: []byte("img"), contentType: "image/jpeg"}
	store.objects["k1_cat.json"] = storedObject{
		data:        []byte(`{"title":"A Cat","description":"Sleeping."}`),
		contentType: "application/json",
	}
	cat := &fakeCatalog{records: []models.ImageRecord{
		{Owner: "u1", BlobName: "k1_cat.jpg", UploadedAt: time.Now()},
	}}
	ic := &ImageController{Store: store, Annotator: &fakeAnnotator{}, Catalog: cat}
	r := newTestRouter(ic, "u1")

	code, files := listFiles(t, r)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, files, 1)
	assert.Equal(t, "k1_cat.jpg", files[0].Name)
	assert.Equal(t, "A Cat", files[0].Title)
	assert.Equal(t, "Sleeping.", files[0].Description)
	assert.Contains(t, files[0].URL, "k1_cat.jpg")
}

func TestListFilesCorruptSidecarFallsBackToDefaults(t *testing.T) {
	store := newFakeStore()
	store.objects["k2_dog.jpg"] = storedObject{data: []byte("img")}
	store.objects["k2_dog.json"] = storedObject{data: []byte("{not json")}
	cat := &fakeCatalog{records: []models.ImageRecord{
		{Owner: "u1", BlobName: "k2_dog.jpg", UploadedAt: time.Now()},
	}}
	ic := &ImageController{Store: store, Annotator: &fakeAnnotator{}, Catalog: cat}
	r := newTestRouter(ic, "u1")

	code, files := listFiles(t, r)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, files, 1)
	assert.Equal(t, models.DefaultTitle, files[0].Title)
	assert.Equal(t, models.DefaultDescription, files[0].Description)
}

func TestListFilesMissingSidecarUsesDefaults(t *testing.T) {
	store := newFakeStore()
	store.objects["k3_owl.jpg"] = storedObject{data: []byte("img")}
	cat := &fakeCatalog{records: []models.ImageRecord{
		{Owner: "u1", BlobName: "k3_owl.jpg", UploadedAt: time.Now()},
	}}
	ic := &ImageController{Store: store, Annotator: &fakeAnnotator{}, Catalog: cat}
	r := newTestRouter(ic, "u1")

	code, files := listFiles(t, r)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, files, 1)
	assert.Equal(t, models.DefaultTitle, files[0].Title)
}

func TestListFilesLegacyURLRecord(t *testing.T) {
	store := newFakeStore()
	store.objects["legacy_pic.jpg"] = storedObject{data: []byte("img")}
	cat := &fakeCatalog{records: []models.ImageRecord{
		{Owner: "u1", URL: "https://bucket.example.com/legacy_pic.jpg", UploadedAt: time.Now()},
	}}
	ic := &ImageController{Store: store, Annotator: &fakeAnnotator{}, Catalog: cat}
	r := newTestRouter(ic, "u1")

	code, files := listFiles(t, r)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, files, 1)
	assert.Equal(t, "legacy_pic.jpg", files[0].Name)
}

func TestListFilesPresignFailureFallsBackToStoredURL(t *testing.T) {
	store := newFakeStore()
	store.failSign = true
	store.objects["k4_fox.jpg"] = storedObject{data: []byte("img")}
	cat := &fakeCatalog{records: []models.ImageRecord{
		{Owner: "u1", BlobName: "k4_fox.jpg", URL: "https://stored.example.com/k4_fox.jpg", UploadedAt: time.Now()},
	}}
	ic := &ImageController{Store: store, Annotator: &fakeAnnotator{}, Catalog: cat}
	r := newTestRouter(ic, "u1")

	code, files := listFiles(t, r)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, files, 1)
	assert.Equal(t, "https://stored.example.com/k4_fox.jpg", files[0].URL)
}

func TestListFilesScopedToOwner(t *testing.T) {
	store := newFakeStore()
	store.objects["mine.jpg"] = storedObject{data: []byte("img")}
	store.objects["theirs.jpg"] = storedObject{data: []byte("img")}
	cat := &fakeCatalog{records: []models.ImageRecord{
		{Owner: "u1", BlobName: "mine.jpg"},
		{Owner: "u2", BlobName: "theirs.jpg"},
	}}
	ic := &ImageController{Store: store, Annotator: &fakeAnnotator{}, Catalog: cat}
	r := newTestRouter(ic, "u1")

	code, files := listFiles(t, r)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, files, 1)
	assert.Equal(t, "mine.jpg", files[0].Name)
}

func TestGetFile(t *testing.T) {
	store := newFakeStore()
	payload := bytes.Repeat([]byte{0xCD}, 1024)
	store.objects["k5_cat.jpg"] = storedObject{data: payload, contentType: "image/jpeg"}
	cat := &fakeCatalog{records: []models.ImageRecord{
		{Owner: "u1", BlobName: "k5_cat.jpg"},
	}}
	ic := &ImageController{Store: store, Annotator: &fakeAnnotator{}, Catalog: cat}
	r := newTestRouter(ic, "u1")

	req := httptest.NewRequest(http.MethodGet, "/files/k5_cat.jpg", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Name        string `json:"name"`
		Size        int64  `json:"size"`
		ContentType string `json:"content_type"`
		URL         string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "k5_cat.jpg", resp.Name)
	assert.Equal(t, int64(1024), resp.Size)
	assert.Equal(t, "image/jpeg", resp.ContentType)
	assert.NotEmpty(t, resp.URL)
}

func TestGetFileNotFound(t *testing.T) {
	ic := &ImageController{Store: newFakeStore(), Annotator: &fakeAnnotator{}, Catalog: &fakeCatalog{}}
	r := newTestRouter(ic, "u1")

	req := httptest.NewRequest(http.MethodGet, "/files/missing.jpg", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetFileOtherOwnerHidden(t *testing.T) {
	store := newFakeStore()
	store.objects["secret.jpg"] = storedObject{data: []byte("img")}
	cat := &fakeCatalog{records: []models.ImageRecord{
		{Owner: "u2", BlobName: "secret.jpg"},
	}}
	ic := &ImageController{Store: store, Annotator: &fakeAnnotator{}, Catalog: cat}
	r := newTestRouter(ic, "u1")

	req := httptest.NewRequest(http.MethodGet, "/files/secret.jpg", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadThenGetFileRoundTrip(t *testing.T) {
	store := newFakeStore()
	cat := &fakeCatalog{}
	ic := &ImageController{
		Store:     store,
		Annotator: &fakeAnnotator{meta: models.DefaultMetadata()},
		Catalog:   cat,
	}
	r := newTestRouter(ic, "u1")

	payload := bytes.Repeat([]byte{0xEF}, 2048)
	rec := doUpload(t, r, "photo.png", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	var up struct {
		Filename string `json:"filename"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))

	req := httptest.NewRequest(http.MethodGet, "/files/"+up.Filename, nil)
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusOK, rec2.Code)

	var info struct {
		Size        int64  `json:"size"`
		ContentType string `json:"content_type"`
	}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &info))
	assert.Equal(t, int64(len(payload)), info.Size)
	assert.Equal(t, "image/jpeg", info.ContentType)
}
