package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"exovision/ml"
)

var database *sql.DB

var ErrNotInitialized = errors.New("database not initialized")

// InitDB opens the SQLite database and creates the schema.
func InitDB(path string) error {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return err
	}
	// One writer; an in-memory database also lives only on its connection.
	conn.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        job_id TEXT NOT NULL,
        model_name VARCHAR(64) NOT NULL,
        status VARCHAR(16) NOT NULL,
        balanced_accuracy REAL DEFAULT 0,
        cv_score REAL DEFAULT 0,
        best_params TEXT DEFAULT '',
        training_rows INTEGER DEFAULT 0,
        test_rows INTEGER DEFAULT 0,
        dropped_rows INTEGER DEFAULT 0,
        sources TEXT DEFAULT '',
        error TEXT DEFAULT '',
        duration_ms INTEGER DEFAULT 0,
        trained_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_training_log_trained_at ON training_log(trained_at);
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(64) NOT NULL,
        source VARCHAR(16) NOT NULL,
        prediction VARCHAR(32) NOT NULL,
        confidence REAL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_model ON predictions(model_name);
    `
	if _, err := conn.Exec(query); err != nil {
		conn.Close()
		return err
	}
	if database != nil {
		database.Close()
	}
	database = conn
	return nil
}

// Close releases the database.
func Close() error {
	if database == nil {
		return nil
	}
	err := database.Close()
	database = nil
	return err
}

// Enabled reports whether InitDB has succeeded.
func Enabled() bool {
	return database != nil
}

// TrainingLog is one training run.
type TrainingLog struct {
	JobID            string          `json:"job_id"`
	ModelName        string          `json:"model_name"`
	Status           string          `json:"status"`
	BalancedAccuracy float64         `json:"balanced_accuracy"`
	CVScore          float64         `json:"cv_score"`
	BestParams       ml.ForestParams `json:"best_params"`
	TrainingRows     int             `json:"training_rows"`
	TestRows         int             `json:"test_rows"`
	DroppedRows      int             `json:"dropped_rows"`
	Sources          []string        `json:"sources"`
	Error            string          `json:"error,omitempty"`
	Duration         time.Duration   `json:"duration"`
	TrainedAt        time.Time       `json:"trained_at"`
}

func SaveTrainingLog(entry TrainingLog) error {
	if database == nil {
		return ErrNotInitialized
	}
	params, err := json.Marshal(entry.BestParams)
	if err != nil {
		return err
	}
	sources, err := json.Marshal(entry.Sources)
	if err != nil {
		return err
	}
	if entry.TrainedAt.IsZero() {
		entry.TrainedAt = time.Now().UTC()
	}
	_, err = database.Exec(`
        INSERT INTO training_log (
            job_id, model_name, status, balanced_accuracy, cv_score, best_params,
            training_rows, test_rows, dropped_rows, sources, error, duration_ms, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		entry.JobID,
		entry.ModelName,
		entry.Status,
		entry.BalancedAccuracy,
		entry.CVScore,
		string(params),
		entry.TrainingRows,
		entry.TestRows,
		entry.DroppedRows,
		string(sources),
		entry.Error,
		entry.Duration.Milliseconds(),
		entry.TrainedAt,
	)
	return err
}

// LoadTrainingLog returns the most recent runs first.
func LoadTrainingLog(limit int) ([]TrainingLog, error) {
	if database == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := database.Query(`
        SELECT job_id, model_name, status, balanced_accuracy, cv_score, best_params,
               training_rows, test_rows, dropped_rows, sources, error, duration_ms, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var (
			log        TrainingLog
			params     string
			sources    string
			durationMs int64
		)
		if err := rows.Scan(&log.JobID, &log.ModelName, &log.Status, &log.BalancedAccuracy, &log.CVScore, &params,
			&log.TrainingRows, &log.TestRows, &log.DroppedRows, &sources, &log.Error, &durationMs, &log.TrainedAt); err != nil {
			return nil, err
		}
		if params != "" {
			_ = json.Unmarshal([]byte(params), &log.BestParams)
		}
		if sources != "" {
			_ = json.Unmarshal([]byte(sources), &log.Sources)
		}
		log.Duration = time.Duration(durationMs) * time.Millisecond
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// SavePredictions records served predictions in one transaction.
func SavePredictions(model, source string, predictions []ml.Disposition) error {
	if database == nil {
		return ErrNotInitialized
	}
	if model == "" {
		return errors.New("model required")
	}
	if len(predictions) == 0 {
		return nil
	}

	tx, err := database.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
        INSERT INTO predictions (model_name, source, prediction, confidence, created_at)
        VALUES (?, ?, ?, ?, ?)
    `)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range predictions {
		if _, err := stmt.Exec(model, source, p.Prediction, p.Confidence, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// PredictionStat counts predictions of one disposition by one model.
type PredictionStat struct {
	ModelName  string  `json:"model_name"`
	Prediction string  `json:"prediction"`
	Count      int     `json:"count"`
	AvgConf    float64 `json:"avg_confidence"`
}

func PredictionStats() ([]PredictionStat, error) {
	if database == nil {
		return nil, ErrNotInitialized
	}
	rows, err := database.Query(`
        SELECT model_name, prediction, COUNT(*), COALESCE(AVG(confidence), 0)
        FROM predictions
        GROUP BY model_name, prediction
        ORDER BY model_name, prediction
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make([]PredictionStat, 0)
	for rows.Next() {
		var s PredictionStat
		if err := rows.Scan(&s.ModelName, &s.Prediction, &s.Count, &s.AvgConf); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
