package export_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/collection-engine/export"
	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
	"github.com/warp/collection-engine/store/memory"
)

func item(id, route string, color loan.Color, daysExpired int) loan.WorkQueueItem {
	return loan.WorkQueueItem{
		ContractID: generic.ContractID(id),
		CompanyID:  "acme",
		RouteID:    route,
		ClientName: "Client " + id,
		Status: &loan.PendingStatus{
			Color:         color,
			DaysExpired:   daysExpired,
			PendingAmount: generic.MustParseMoney("150.00"),
			EvaluatedOn:   generic.NewTimePoint(2025, time.March, 10),
		},
	}
}

func TestOrder_WorstFirstWithinRoute(t *testing.T) {
	// GIVEN: Two routes with mixed colors and one unclassified contract
	// WHEN: Ordering the queue
	// THEN: Routes sorted by ID; red > yellow > green > unclassified; ties by days expired

	unclassified := loan.WorkQueueItem{ContractID: "c-new", RouteID: "r1"}
	routes := export.Order([]loan.WorkQueueItem{
		item("c-green", "r1", loan.ColorGreen, 0),
		unclassified,
		item("c-red-3", "r1", loan.ColorRed, 3),
		item("c-yellow", "r1", loan.ColorYellow, 2),
		item("c-red-9", "r1", loan.ColorRed, 9),
		item("c-other", "r0", loan.ColorGreen, 0),
	})

	require.Len(t, routes, 2)
	assert.Equal(t, "r0", routes[0].RouteID)
	assert.Equal(t, "r1", routes[1].RouteID)

	var ids []generic.ContractID
	for _, it := range routes[1].Items {
		ids = append(ids, it.ContractID)
	}
	assert.Equal(t, []generic.ContractID{"c-red-9", "c-red-3", "c-yellow", "c-green", "c-new"}, ids)
}

func TestWriteXLSX(t *testing.T) {
	routes := export.Order([]loan.WorkQueueItem{
		item("c-1", "r1", loan.ColorRed, 5),
		item("c-2", "r1", loan.ColorGreen, 0),
	})

	var buf bytes.Buffer
	require.NoError(t, export.WriteXLSX(&buf, routes))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Work queue")
	require.NoError(t, err)
	require.Len(t, rows, 4, "header, route row, two contracts")
	assert.Equal(t, "Route", rows[0][0])
	assert.Equal(t, "Route r1", rows[1][0])
	assert.Equal(t, "c-1", rows[2][1])
	assert.Equal(t, "red", rows[2][3])
	assert.Equal(t, "5", rows[2][6])
	assert.Equal(t, "c-2", rows[3][1])
}

type fakeUploader struct {
	key         string
	data        []byte
	contentType string
}

func (u *fakeUploader) Upload(_ context.Context, key string, data []byte, contentType string) error {
	u.key, u.data, u.contentType = key, data, contentType
	return nil
}

func TestExporter_Export(t *testing.T) {
	store := memory.New()
	store.PutContract(loan.Contract{
		ID:        "c-1",
		CompanyID: "acme",
		RouteID:   "r1",
		IsActive:  true,
		StartDate: generic.NewTimePoint(2025, time.March, 3),
	})

	up := &fakeUploader{}
	exp := export.NewExporter(store, up, nil)
	exp.Clock = func() time.Time { return time.Date(2025, time.March, 10, 6, 0, 0, 0, time.UTC) }

	key, err := exp.Export(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "work-queue/acme/2025-03-10.xlsx", key)
	assert.Equal(t, key, up.key)
	assert.Equal(t, export.ContentTypeXLSX, up.contentType)
	assert.NotEmpty(t, up.data)
}

func TestExporter_Errors(t *testing.T) {
	exp := export.NewExporter(memory.New(), nil, nil)

	_, err := exp.Export(context.Background(), "acme")
	assert.ErrorIs(t, err, generic.ErrConfiguration)

	_, err = exp.Build(context.Background(), "")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

// =============================================================================
// S3
// =============================================================================

type fakeBucket struct {
	exists  bool
	made    bool
	objects map[string][]byte
	opts    minio.PutObjectOptions
}

func (b *fakeBucket) BucketExists(context.Context, string) (bool, error) { return b.exists, nil }

func (b *fakeBucket) MakeBucket(context.Context, string, minio.MakeBucketOptions) error {
	b.made = true
	return nil
}

func (b *fakeBucket) PutObject(_ context.Context, _, object string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	b.objects[object] = data
	b.opts = opts
	return minio.UploadInfo{Key: object, Size: int64(len(data))}, nil
}

func TestS3Uploader(t *testing.T) {
	bucket := &fakeBucket{objects: make(map[string][]byte)}
	u := &export.S3Uploader{Client: bucket, Bucket: "exports"}

	require.NoError(t, u.EnsureBucket(context.Background()))
	assert.True(t, bucket.made)

	require.NoError(t, u.Upload(context.Background(), "k.xlsx", []byte("xlsx"), export.ContentTypeXLSX))
	assert.Equal(t, []byte("xlsx"), bucket.objects["k.xlsx"])
	assert.Equal(t, export.ContentTypeXLSX, bucket.opts.ContentType)
}
