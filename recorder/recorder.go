package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "rabbitx/config"
	"rabbitx/logger"
	"rabbitx/models"
)

// Row is one recorded book level change, flattened for parquet.
type Row struct {
	Market    string  `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Size      float64 `parquet:"name=size, type=DOUBLE"`
	Snapshot  bool    `parquet:"name=snapshot, type=BOOLEAN"`
	Sequence  int64   `parquet:"name=sequence, type=INT64"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
}

// Recorder consumes an orderbook channel and persists every level change as
// parquet, one file per market per flush, locally and optionally to S3. It
// implements the channel handler contract, so it can sit next to a live book
// on the same channel.
type Recorder struct {
	cfg      appconfig.RecorderConfig
	s3Client *s3.Client
	log      *logger.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ticker *time.Ticker

	mu      sync.Mutex
	running bool
	buffer  map[string][]Row
}

// New builds a recorder from its configuration. The S3 client is only
// constructed, and credentials only validated, when S3 upload is enabled.
func New(cfg appconfig.RecorderConfig) (*Recorder, error) {
	log := logger.GetLogger().WithComponent("recorder")

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create recorder directory: %w", err)
	}

	r := &Recorder{
		cfg:    cfg,
		log:    log,
		buffer: make(map[string][]Row),
	}

	if cfg.S3.Enabled {
		ctx := context.Background()
		loadOpts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.S3.Region),
		}
		if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					cfg.S3.AccessKeyID,
					cfg.S3.SecretAccessKey,
					"",
				),
			))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS configuration: %w", err)
		}
		creds, err := awsCfg.Credentials.Retrieve(ctx)
		if err != nil || !creds.HasKeys() {
			return nil, fmt.Errorf("aws credentials not found")
		}
		r.s3Client = s3.NewFromConfig(awsCfg)

		log.WithFields(logger.Fields{
			"bucket": cfg.S3.Bucket,
			"region": cfg.S3.Region,
		}).Info("recorder S3 upload enabled")
	}

	return r, nil
}

// Start launches the flush worker.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("recorder already running")
	}
	r.running = true
	r.mu.Unlock()

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.ticker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.flushWorker()

	r.log.WithFields(logger.Fields{
		"directory":      r.cfg.Directory,
		"flush_interval": r.cfg.FlushInterval.String(),
	}).Info("recorder started")
	return nil
}

// Stop flushes whatever is buffered and waits for the worker to exit.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.ticker.Stop()
	r.log.Info("recorder stopped")
}

// OnSubscribe records the initial snapshot levels.
func (r *Recorder) OnSubscribe(data json.RawMessage) {
	r.consume(data, true)
}

// OnData records one diff's levels.
func (r *Recorder) OnData(data json.RawMessage) {
	r.consume(data, false)
}

func (r *Recorder) consume(data json.RawMessage, snapshot bool) {
	if len(data) == 0 {
		return
	}
	var book models.OrderbookData
	if err := json.Unmarshal(data, &book); err != nil {
		logger.IncrementDecodeError()
		r.log.WithError(err).Warn("dropping undecodable book payload")
		return
	}
	if book.MarketID == "" {
		return
	}

	now := time.Now().UnixMilli()
	if book.Timestamp != 0 {
		now = book.Timestamp
	}
	rows := make([]Row, 0, len(book.Bids)+len(book.Asks))
	for _, level := range book.Asks {
		rows = append(rows, Row{
			Market:    book.MarketID,
			Side:      "short",
			Price:     level.Price.InexactFloat64(),
			Size:      level.Size.InexactFloat64(),
			Snapshot:  snapshot,
			Sequence:  int64(book.Sequence),
			Timestamp: now,
		})
	}
	for _, level := range book.Bids {
		rows = append(rows, Row{
			Market:    book.MarketID,
			Side:      "long",
			Price:     level.Price.InexactFloat64(),
			Size:      level.Size.InexactFloat64(),
			Snapshot:  snapshot,
			Sequence:  int64(book.Sequence),
			Timestamp: now,
		})
	}
	if len(rows) == 0 {
		return
	}

	r.mu.Lock()
	r.buffer[book.MarketID] = append(r.buffer[book.MarketID], rows...)
	r.mu.Unlock()
}

func (r *Recorder) flushWorker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			r.flush("shutdown")
			return
		case <-r.ticker.C:
			r.flush("interval")
		}
	}
}

// Flush writes out every buffered market immediately.
func (r *Recorder) Flush() {
	r.flush("manual")
}

func (r *Recorder) flush(reason string) {
	r.mu.Lock()
	buffers := r.buffer
	r.buffer = make(map[string][]Row)
	r.mu.Unlock()

	if len(buffers) == 0 {
		return
	}
	r.log.WithFields(logger.Fields{
		"markets": len(buffers),
		"reason":  reason,
	}).Debug("flushing buffers")

	for market, rows := range buffers {
		if len(rows) == 0 {
			continue
		}
		if err := r.writeBatch(market, rows); err != nil {
			r.log.WithError(err).WithFields(logger.Fields{"market": market}).Error("failed to persist batch")
		}
	}
}

func (r *Recorder) writeBatch(market string, rows []Row) error {
	data, err := encodeParquet(rows)
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s_%s_%s.parquet",
		market,
		time.Now().UTC().Format("20060102150405"),
		uuid.New().String()[:8])
	path := filepath.Join(r.cfg.Directory, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.IncrementRecorderWrite(int64(len(data)))

	r.log.WithFields(logger.Fields{
		"market": market,
		"rows":   len(rows),
		"bytes":  len(data),
		"file":   path,
	}).Info("batch persisted")

	if r.s3Client == nil {
		return nil
	}
	return r.upload(market, name, data)
}

func (r *Recorder) upload(market, name string, data []byte) error {
	key := filepath.ToSlash(filepath.Join(
		r.cfg.S3.Prefix,
		fmt.Sprintf("market=%s", market),
		fmt.Sprintf("date=%s", time.Now().UTC().Format("2006-01-02")),
		name,
	))

	ctx := context.WithoutCancel(r.ctx)
	_, err := r.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.cfg.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("upload to S3 bucket %s: %w", r.cfg.S3.Bucket, err)
	}

	r.log.WithFields(logger.Fields{"s3_key": key}).Info("batch uploaded")
	return nil
}

func encodeParquet(rows []Row) ([]byte, error) {
	fw := newMemoryFile()
	pw, err := writer.NewParquetWriter(fw, new(Row), 2)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet file: %w", err)
	}
	return fw.Bytes(), nil
}
