package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"runmgr/pkg/domain"
)

var _ domain.Transaction = (*transaction)(nil)

type transaction struct {
	ctx     context.Context
	tx      *sql.Tx
	dialect Dialect
}

const runColumns = "r.Id, r.ExperimentName, r.DateCreated, r.Status, r.SampleSheet, r.Json"

var stageColumns = map[domain.Stage]string{
	domain.StageDownload: "Download",
	domain.StageDemux:    "Demux",
	domain.StageUpload:   "Upload",
}

func (t *transaction) exec(query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(t.ctx, Rebind(t.dialect, query), args...)
}

func (t *transaction) query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(t.ctx, Rebind(t.dialect, query), args...)
}

func (t *transaction) queryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(t.ctx, Rebind(t.dialect, query), args...)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (domain.Run, error) {
	var (
		run                          domain.Run
		name, created, status, sheet sql.NullString
		doc                          sql.NullString
	)
	if err := sc.Scan(&run.ID, &name, &created, &status, &sheet, &doc); err != nil {
		return domain.Run{}, err
	}
	run.ExperimentName = name.String
	run.DateCreated = created.String
	run.Status = status.String
	run.SampleSheet = sheet.String
	meta, err := domain.ParseRunMetadata([]byte(doc.String))
	if err != nil {
		return domain.Run{}, fmt.Errorf("run %d: %w", run.ID, err)
	}
	run.Metadata = meta
	return run, nil
}

func (t *transaction) collectRuns(query string, args ...any) ([]domain.Run, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (t *transaction) UpsertRun(run domain.Run) (bool, error) {
	var one int
	err := t.queryRow(`SELECT 1 FROM Runs WHERE Id = ?`, run.ID).Scan(&one)
	switch {
	case err == nil:
		_, err = t.exec(`UPDATE Runs SET Status = ?, Json = ? WHERE Id = ?`, run.Status, string(run.Metadata.Bytes()), run.ID)
		if err != nil {
			return false, fmt.Errorf("update run %d: %w", run.ID, err)
		}
		return false, nil
	case isNoRows(err):
		_, err = t.exec(`INSERT INTO Runs (Id, ExperimentName, DateCreated, Status, SampleSheet, Json) VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, run.ExperimentName, run.DateCreated, run.Status, nullString(run.SampleSheet), string(run.Metadata.Bytes()))
		if err != nil {
			return false, fmt.Errorf("insert run %d: %w", run.ID, err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("lookup run %d: %w", run.ID, err)
	}
}

func (t *transaction) GetRun(id int64) (domain.Run, bool, error) {
	run, err := scanRun(t.queryRow(`SELECT `+runColumns+` FROM Runs r WHERE r.Id = ?`, id))
	if isNoRows(err) {
		return domain.Run{}, false, nil
	}
	if err != nil {
		return domain.Run{}, false, err
	}
	return run, true, nil
}

func (t *transaction) FindRunByName(name string) (domain.Run, bool, error) {
	run, err := scanRun(t.queryRow(`SELECT `+runColumns+` FROM Runs r WHERE r.ExperimentName = ? ORDER BY r.DateCreated DESC LIMIT 1`, name))
	if isNoRows(err) {
		return domain.Run{}, false, nil
	}
	if err != nil {
		return domain.Run{}, false, err
	}
	return run, true, nil
}

func (t *transaction) ListRuns(limit int) ([]domain.Run, error) {
	q := `SELECT ` + runColumns + ` FROM Runs r ORDER BY r.DateCreated DESC, r.Id DESC`
	if limit > 0 {
		return t.collectRuns(q+` LIMIT ?`, limit)
	}
	return t.collectRuns(q)
}

func (t *transaction) CountRuns() (int, error) {
	var n int
	if err := t.queryRow(`SELECT COUNT(*) FROM Runs`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *transaction) SetSampleSheet(runID int64, name string) error {
	res, err := t.exec(`UPDATE Runs SET SampleSheet = ? WHERE Id = ?`, nullString(name), runID)
	if err != nil {
		return fmt.Errorf("set sample sheet for run %d: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %d: %w", runID, domain.ErrRunNotFound)
	}
	return nil
}

func parseStamps(values []sql.NullString, targets []*time.Time) error {
	for i, v := range values {
		ts, err := domain.ParseTimestamp(v.String)
		if err != nil {
			return err
		}
		*targets[i] = ts
	}
	return nil
}

func (t *transaction) GetOperations(runID int64) (domain.Operations, error) {
	ops := domain.NewOperations(runID)
	var (
		codes  [3]string
		stamps = make([]sql.NullString, 4)
	)
	err := t.queryRow(`SELECT Download, Demux, Upload, Dstart, Dend, Xstart, Xend FROM Operations WHERE Id = ?`, runID).
		Scan(&codes[0], &codes[1], &codes[2], &stamps[0], &stamps[1], &stamps[2], &stamps[3])
	if isNoRows(err) {
		_, err = t.exec(`INSERT INTO Operations (Id, Download, Demux, Upload) VALUES (?, ?, ?, ?)`,
			runID, string(domain.OpNotRequested), string(domain.OpNotRequested), string(domain.OpNotRequested))
		if err != nil {
			return ops, fmt.Errorf("create operations for run %d: %w", runID, err)
		}
		return ops, nil
	}
	if err != nil {
		return ops, fmt.Errorf("load operations for run %d: %w", runID, err)
	}
	ops.Download, ops.Demux, ops.Upload = domain.OpCode(codes[0]), domain.OpCode(codes[1]), domain.OpCode(codes[2])
	if err := parseStamps(stamps, []*time.Time{&ops.DownloadStart, &ops.DownloadEnd, &ops.DemuxStart, &ops.DemuxEnd}); err != nil {
		return ops, err
	}
	return ops, nil
}

func (t *transaction) writeOperations(ops domain.Operations) error {
	_, err := t.exec(`UPDATE Operations SET Download = ?, Demux = ?, Upload = ?, Dstart = ?, Dend = ?, Xstart = ?, Xend = ? WHERE Id = ?`,
		string(ops.Download), string(ops.Demux), string(ops.Upload),
		nullString(domain.FormatTimestamp(ops.DownloadStart)), nullString(domain.FormatTimestamp(ops.DownloadEnd)),
		nullString(domain.FormatTimestamp(ops.DemuxStart)), nullString(domain.FormatTimestamp(ops.DemuxEnd)),
		ops.RunID)
	if err != nil {
		return fmt.Errorf("update operations for run %d: %w", ops.RunID, err)
	}
	return nil
}

func (t *transaction) SetStage(runID int64, stage domain.Stage, code domain.OpCode, at time.Time) error {
	if !code.Valid() {
		return fmt.Errorf("invalid operation code %q", code)
	}
	ops, err := t.GetOperations(runID)
	if err != nil {
		return err
	}
	ops.Apply(stage, code, at)
	return t.writeOperations(ops)
}

func (t *transaction) ToggleStage(runID int64, stage domain.Stage) (domain.OpCode, bool, error) {
	ops, err := t.GetOperations(runID)
	if err != nil {
		return "", false, err
	}
	next, ok := domain.Toggle(ops.Code(stage))
	if !ok {
		return next, false, nil
	}
	ops.Apply(stage, next, time.Time{})
	return next, true, t.writeOperations(ops)
}

func (t *transaction) RunsWithStage(stage domain.Stage, code domain.OpCode) ([]domain.Run, error) {
	col, ok := stageColumns[stage]
	if !ok {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
	return t.collectRuns(`SELECT `+runColumns+` FROM Runs r JOIN Operations o ON o.Id = r.Id WHERE o.`+col+` = ? ORDER BY r.DateCreated, r.Id`, string(code))
}

func (t *transaction) ListActivity(codes ...domain.OpCode) ([]domain.RunActivity, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	args := make([]any, 0, 3*len(codes))
	var clauses []string
	for _, stage := range domain.Stages {
		clauses = append(clauses, "o."+stageColumns[stage]+" IN ("+placeholders(len(codes))+")")
		for _, c := range codes {
			args = append(args, string(c))
		}
	}
	runs, err := t.collectRuns(`SELECT `+runColumns+` FROM Runs r JOIN Operations o ON o.Id = r.Id WHERE `+
		strings.Join(clauses, " OR ")+` ORDER BY r.DateCreated DESC, r.Id DESC`, args...)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RunActivity, 0, len(runs))
	for _, run := range runs {
		ops, err := t.GetOperations(run.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.RunActivity{Run: run, Operations: ops})
	}
	return out, nil
}

func (t *transaction) RecordProject(runID int64, name, status string, at time.Time) error {
	var current string
	err := t.queryRow(`SELECT Status FROM Projects WHERE Name = ? AND ParentRun = ?`, name, runID).Scan(&current)
	switch {
	case err == nil:
		if _, err := t.exec(`UPDATE Projects SET Status = ? WHERE Name = ? AND ParentRun = ?`, status, name, runID); err != nil {
			return fmt.Errorf("update project %s: %w", name, err)
		}
		return nil
	case isNoRows(err):
		_, err = t.exec(`INSERT INTO Projects (Name, ParentRun, Timestamp, Status, Upload) VALUES (?, ?, ?, ?, ?)`,
			name, runID, domain.FormatTimestamp(at), status, string(domain.OpNotRequested))
		if err != nil {
			return fmt.Errorf("insert project %s: %w", name, err)
		}
		return nil
	default:
		return fmt.Errorf("lookup project %s: %w", name, err)
	}
}

const projectColumns = "Name, ParentRun, Timestamp, Status, Upload, Ustart, Uend"

func (t *transaction) collectProjects(query string, args ...any) ([]domain.ProjectRecord, error) {
	rows, err := t.query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []domain.ProjectRecord
	for rows.Next() {
		var (
			p      domain.ProjectRecord
			upload sql.NullString
			status sql.NullString
			stamps = make([]sql.NullString, 3)
		)
		if err := rows.Scan(&p.Name, &p.ParentRun, &stamps[0], &status, &upload, &stamps[1], &stamps[2]); err != nil {
			return nil, err
		}
		p.Status = status.String
		p.Upload = domain.OpCode(upload.String)
		if p.Upload == "" {
			p.Upload = domain.OpNotRequested
		}
		if err := parseStamps(stamps, []*time.Time{&p.Timestamp, &p.UploadStart, &p.UploadEnd}); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *transaction) ListProjects(runID int64) ([]domain.ProjectRecord, error) {
	return t.collectProjects(`SELECT `+projectColumns+` FROM Projects WHERE ParentRun = ? ORDER BY Name`, runID)
}

func (t *transaction) ProjectsWithUpload(code domain.OpCode) ([]domain.ProjectRecord, error) {
	return t.collectProjects(`SELECT `+projectColumns+` FROM Projects WHERE Upload = ? ORDER BY ParentRun, Name`, string(code))
}

func (t *transaction) SetProjectUpload(runID int64, name string, code domain.OpCode, at time.Time) error {
	if !code.Valid() {
		return fmt.Errorf("invalid operation code %q", code)
	}
	var (
		res sql.Result
		err error
	)
	switch code {
	case domain.OpOngoing:
		res, err = t.exec(`UPDATE Projects SET Upload = ?, Ustart = ? WHERE Name = ? AND ParentRun = ?`, string(code), domain.FormatTimestamp(at), name, runID)
	case domain.OpCompleted, domain.OpFailed:
		res, err = t.exec(`UPDATE Projects SET Upload = ?, Uend = ? WHERE Name = ? AND ParentRun = ?`, string(code), domain.FormatTimestamp(at), name, runID)
	default:
		res, err = t.exec(`UPDATE Projects SET Upload = ? WHERE Name = ? AND ParentRun = ?`, string(code), name, runID)
	}
	if err != nil {
		return fmt.Errorf("set upload of project %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("project %s of run %d not found", name, runID)
	}
	return nil
}

func (t *transaction) ToggleProjectUpload(runID int64, name string) (domain.OpCode, bool, error) {
	var current sql.NullString
	err := t.queryRow(`SELECT Upload FROM Projects WHERE Name = ? AND ParentRun = ?`, name, runID).Scan(&current)
	if isNoRows(err) {
		return "", false, fmt.Errorf("project %s of run %d not found", name, runID)
	}
	if err != nil {
		return "", false, err
	}
	code := domain.OpCode(current.String)
	if code == "" {
		code = domain.OpNotRequested
	}
	next, ok := domain.ToggleProjectUpload(code)
	if !ok {
		return next, false, nil
	}
	return next, true, t.SetProjectUpload(runID, name, next, time.Time{})
}

func (t *transaction) RollUpUpload(runID int64) (domain.OpCode, error) {
	projects, err := t.ListProjects(runID)
	if err != nil {
		return "", err
	}
	codes := make([]domain.OpCode, len(projects))
	for i, p := range projects {
		codes[i] = p.Upload
	}
	code := domain.RollUp(codes)
	return code, t.SetStage(runID, domain.StageUpload, code, time.Time{})
}
