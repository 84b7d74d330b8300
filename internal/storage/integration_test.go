package storage_test

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/ashita-ai/yoho/internal/storage"
	"github.com/ashita-ai/yoho/internal/testutil"
	"github.com/ashita-ai/yoho/migrations"
)

// Containers start lazily on first use and are shared by the package.
var (
	pgOnce      sync.Once
	pgContainer *testutil.TestContainer
	pgErr       error

	minioOnce      sync.Once
	minioContainer *testutil.MinIOContainer
	minioErr       error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if pgContainer != nil {
		pgContainer.Terminate()
	}
	if minioContainer != nil {
		minioContainer.Terminate()
	}
	os.Exit(code)
}

func postgres(t *testing.T) *testutil.TestContainer {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	pgOnce.Do(func() { pgContainer, pgErr = testutil.StartPostgres(context.Background()) })
	if pgErr != nil {
		t.Skipf("postgres unavailable: %v", pgErr)
	}
	return pgContainer
}

func minioServer(t *testing.T) *testutil.MinIOContainer {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	minioOnce.Do(func() { minioContainer, minioErr = testutil.StartMinIO(context.Background()) })
	if minioErr != nil {
		t.Skipf("minio unavailable: %v", minioErr)
	}
	return minioContainer
}

func TestRunMigrationsIdempotent(t *testing.T) {
	pg := postgres(t)
	ctx := context.Background()

	db, err := pg.NewTestDB(ctx, testutil.TestLogger())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.RunMigrations(ctx, migrations.FS))

	var n int
	require.NoError(t, db.Pool().QueryRow(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestPostgresExporter(t *testing.T) {
	pg := postgres(t)
	ctx := context.Background()

	exp, err := storage.NewPostgresExporter(ctx, pg.DSN, migrations.FS, testutil.TestLogger())
	require.NoError(t, err)
	defer func() { _ = exp.Close() }()

	result := sampleResult()
	receipt, err := exp.Export(ctx, result)
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.Records)

	db, err := storage.New(ctx, pg.DSN, testutil.TestLogger())
	require.NoError(t, err)
	defer db.Close()

	var (
		count int
		vt    string
	)
	require.NoError(t, db.Pool().QueryRow(ctx,
		`SELECT record_count, violence_type FROM forecast_exports WHERE id = $1`, receipt.ExportID,
	).Scan(&count, &vt))
	assert.Equal(t, 3, count)
	assert.Equal(t, "armed_conflict", vt)

	rows, err := db.Pool().Query(ctx,
		`SELECT priogrid_id, metrics->>'MAP' IS NULL FROM forecast_records WHERE export_id = $1 ORDER BY seq`,
		receipt.ExportID,
	)
	require.NoError(t, err)
	defer rows.Close()

	var (
		cells   []string
		missing []bool
	)
	for rows.Next() {
		var cell string
		var isNull bool
		require.NoError(t, rows.Scan(&cell, &isNull))
		cells = append(cells, cell)
		missing = append(missing, isNull)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"1", "2", "3"}, cells)
	assert.Equal(t, []bool{false, true, true}, missing)
}

func TestObjectExporter(t *testing.T) {
	mc := minioServer(t)
	ctx := context.Background()

	cfg := storage.ObjectConfig{
		Endpoint:  mc.Endpoint,
		AccessKey: mc.AccessKey,
		SecretKey: mc.SecretKey,
		Region:    "us-east-1",
		Bucket:    "forecasts",
		Prefix:    "exports",
	}
	exp, err := storage.NewObjectExporter(ctx, cfg, testutil.TestLogger())
	require.NoError(t, err)

	result := sampleResult()
	receipt, err := exp.Export(ctx, result)
	require.NoError(t, err)
	key := storage.ObjectKey(cfg.Prefix, result.Descriptor.Scope(), receipt.ExportID)
	assert.Equal(t, "s3://forecasts/"+key, receipt.Location)

	client, err := minio.New(mc.Endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(mc.AccessKey, mc.SecretKey, ""),
	})
	require.NoError(t, err)
	obj, err := client.GetObject(ctx, cfg.Bucket, key, minio.GetObjectOptions{})
	require.NoError(t, err)
	defer func() { _ = obj.Close() }()

	var lines []string
	sc := bufio.NewScanner(obj)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 3)
	assert.True(t, strings.Contains(lines[0], `"priogrid_id":"1"`), lines[0])

	info, err := client.StatObject(ctx, cfg.Bucket, key, minio.StatObjectOptions{})
	require.NoError(t, err)
	assert.Equal(t, result.ID.String(), info.UserMetadata["Result-Id"])

	// A second exporter on the same bucket must not fail on bucket creation.
	_, err = storage.NewObjectExporter(ctx, cfg, testutil.TestLogger())
	assert.NoError(t, err)
}
