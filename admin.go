package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"researchbuddy/internal/config"
	"researchbuddy/internal/credentials"
	"researchbuddy/internal/db"
	"researchbuddy/internal/export"
	"researchbuddy/internal/models"
	"researchbuddy/internal/ui"
)

// EnvAdminPassword lets scripts pass the admin password without a terminal.
const EnvAdminPassword = "RESEARCHBUDDY_ADMIN_PASSWORD"

var readSecretFn = readSecret

var errAdminDenied = errors.New("invalid admin password")

const adminUsage = "usage: researchbuddy admin <list|show|export-session|stats|query|cleanup>"

type adminCmd struct {
	cfg *config.Config
	db  *sql.DB
	in  io.Reader
	out io.Writer
}

func runAdmin(cfg *config.Config, args []string, in io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(adminUsage)
	}
	if err := authorizeAdmin(credentials.SecretFile{Path: cfg.Paths.Secrets}); err != nil {
		return err
	}

	conn, err := db.Open(cfg.Paths.Database)
	if err != nil {
		return fmt.Errorf("open interaction log: %w", err)
	}
	defer conn.Close()

	a := &adminCmd{cfg: cfg, db: conn, in: in, out: out}
	ctx := context.Background()

	switch args[0] {
	case "list":
		return a.list(ctx, args[1:])
	case "show":
		return a.show(ctx, args[1:])
	case "export-session":
		return a.exportSession(ctx, args[1:])
	case "stats":
		return a.stats(ctx, args[1:])
	case "query":
		return a.query(ctx, args[1:])
	case "cleanup":
		return a.cleanup(ctx, args[1:])
	default:
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

// authorizeAdmin asks for the admin password when secrets.toml sets one.
func authorizeAdmin(secrets credentials.SecretFile) error {
	expected, ok := secrets.AdminPassword()
	if !ok {
		return nil
	}
	given := os.Getenv(EnvAdminPassword)
	if given == "" {
		var err error
		if given, err = readSecretFn("Admin password: "); err != nil {
			return err
		}
	}
	if !credentials.CheckPassword(expected, given) {
		return errAdminDenied
	}
	return nil
}

// parseWithPositional accepts the positional argument before or after flags.
func parseWithPositional(fs *flag.FlagSet, args []string) (string, error) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		if err := fs.Parse(args[1:]); err != nil {
			return "", err
		}
		return args[0], nil
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return fs.Arg(0), nil
}

func (a *adminCmd) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("admin list", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum sessions to list")
	offset := fs.Int("offset", 0, "sessions to skip")
	minMessages := fs.Int("min-messages", 0, "only sessions with at least this many interactions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	total, items, err := db.RecentSessions(ctx, a.db, *limit, *offset, *minMessages)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(a.out, "No sessions found.")
		return nil
	}

	writer := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "SESSION\tSTARTED\tMESSAGES\tLAST ACTIVITY\tLAST QUERY")
	for _, s := range items {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\n",
			s.SessionID,
			s.StartTime.Local().Format(time.DateTime),
			s.MessageCount,
			ui.RelativeTime(s.LastActivity),
			ui.TruncateRunes(ui.PromptPreview(s.LastQuery), 40),
		)
	}
	fmt.Fprintf(writer, "\n%d of %d sessions\n", len(items), total)
	return writer.Flush()
}

func (a *adminCmd) show(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("admin show", flag.ContinueOnError)
	id, err := parseWithPositional(fs, args)
	if err != nil {
		return err
	}
	if id == "" {
		return errors.New("usage: researchbuddy admin show <session>")
	}

	info, err := db.GetSession(ctx, a.db, id)
	if err != nil {
		return err
	}
	items, err := db.SessionInteractions(ctx, a.db, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Session:  %s\n", info.SessionID)
	fmt.Fprintf(a.out, "Started:  %s\n", info.StartTime.Local().Format(time.DateTime))
	if info.ClientAgent != "" {
		fmt.Fprintf(a.out, "Client:   %s %s\n", info.ClientAgent, info.ClientAddr)
	}
	if n := len(items); n > 0 {
		fmt.Fprintf(a.out, "Duration: %s\n", items[n-1].Timestamp.Sub(info.StartTime).Round(time.Second))
	}
	fmt.Fprintf(a.out, "Messages: %d\n", len(items))

	for i, it := range items {
		fmt.Fprintf(a.out, "\n[%d] %s  %s (%s)  %dms\n", i+1, it.Timestamp.Local().Format(time.TimeOnly), it.ModelName, it.ModelID, it.ElapsedMs)
		if it.HasFile {
			fmt.Fprintf(a.out, "    file:  %s\n", it.FileName)
		}
		if it.HasImage {
			fmt.Fprintln(a.out, "    image: attached")
		}
		fmt.Fprintf(a.out, "    Q: %s\n", ui.TruncateRunes(ui.PromptPreview(it.UserQuery), 100))
		fmt.Fprintf(a.out, "    A: %s\n", ui.TruncateRunes(ui.PromptPreview(it.ModelResponse), 100))
	}
	return nil
}

func (a *adminCmd) exportSession(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("admin export-session", flag.ContinueOnError)
	format := fs.String("format", "csv", "csv, json, xlsx or text")
	outPath := fs.String("out", "", "output file (default: exports dir)")
	id, err := parseWithPositional(fs, args)
	if err != nil {
		return err
	}
	if id == "" {
		return errors.New("usage: researchbuddy admin export-session <session> [-format csv|json|xlsx|text] [-out path]")
	}

	f, err := export.ParseFormat(*format)
	if err != nil {
		return err
	}
	if _, err := db.GetSession(ctx, a.db, id); err != nil {
		return err
	}
	items, err := db.SessionInteractions(ctx, a.db, id)
	if err != nil {
		return err
	}
	body, err := export.Interactions(items, f)
	if err != nil {
		return err
	}
	name := "session_" + shortID(id) + f.Ext()
	return a.write(*outPath, name, body)
}

type statsReport struct {
	Stats         models.Stats          `json:"stats"`
	ModelUsage    []models.ModelUsage   `json:"model_usage"`
	DailyUsage    []models.DailyUsage   `json:"daily_usage"`
	ResponseTimes []models.ResponseTime `json:"response_times"`
}

func (a *adminCmd) stats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("admin stats", flag.ContinueOnError)
	format := fs.String("format", "text", "text, csv, json or xlsx")
	outPath := fs.String("out", "", "output file for csv/json/xlsx (xlsx defaults to the exports dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var rep statsReport
	var err error
	if rep.Stats, err = db.Stats(ctx, a.db); err != nil {
		return err
	}
	if rep.ModelUsage, err = db.ModelUsage(ctx, a.db); err != nil {
		return err
	}
	if rep.DailyUsage, err = db.DailyUsage(ctx, a.db); err != nil {
		return err
	}
	if rep.ResponseTimes, err = db.ResponseTimes(ctx, a.db); err != nil {
		return err
	}

	sheets := export.StatsSheets(rep.Stats, rep.ModelUsage, rep.DailyUsage, rep.ResponseTimes)
	var body []byte
	ext := ".csv"
	switch strings.ToLower(*format) {
	case "text", "txt":
		return a.printStats(rep)
	case "json":
		if body, err = json.MarshalIndent(rep, "", "  "); err != nil {
			return err
		}
		body = append(body, '\n')
		ext = ".json"
	case "csv":
		if body, err = export.StatsCSV(sheets); err != nil {
			return err
		}
	case "xlsx", "excel":
		if body, err = export.Workbook(sheets...); err != nil {
			return err
		}
		ext = ".xlsx"
	default:
		return fmt.Errorf("unknown format: %s (use: text, csv, json, xlsx)", *format)
	}
	return a.write(*outPath, "researchbuddy_stats_"+time.Now().Format("20060102_150405")+ext, body)
}

func (a *adminCmd) printStats(rep statsReport) error {
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Total sessions:\t%d\n", rep.Stats.TotalSessions)
	fmt.Fprintf(w, "Total interactions:\t%d\n", rep.Stats.TotalInteractions)
	if rep.Stats.PopularModel != "" {
		fmt.Fprintf(w, "Most popular model:\t%s (%d)\n", rep.Stats.PopularModel, rep.Stats.PopularModelCount)
	}

	fmt.Fprintln(w, "\nMODEL\tUSES\tAVG MS")
	avg := make(map[string]float64, len(rep.ResponseTimes))
	for _, rt := range rep.ResponseTimes {
		avg[rt.ModelName] = rt.AvgMs
	}
	for _, u := range rep.ModelUsage {
		fmt.Fprintf(w, "%s\t%d\t%.1f\n", u.ModelName, u.Count, avg[u.ModelName])
	}

	fmt.Fprintln(w, "\nDATE\tINTERACTIONS")
	for _, d := range rep.DailyUsage {
		fmt.Fprintf(w, "%s\t%d\n", d.Date, d.Count)
	}
	return w.Flush()
}

func (a *adminCmd) query(ctx context.Context, args []string) error {
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		return errors.New(`usage: researchbuddy admin query "<select statement>"`)
	}
	res, err := db.Query(ctx, a.db, q)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = ui.TruncateRunes(ui.PromptPreview(c), 60)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	fmt.Fprintf(w, "\n(%d rows)\n", len(res.Rows))
	return w.Flush()
}

func (a *adminCmd) cleanup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("admin cleanup", flag.ContinueOnError)
	days := fs.Int("days", 30, "delete interactions older than this many days")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days < 1 {
		return errors.New("-days must be at least 1")
	}

	if !*yes {
		fmt.Fprintf(a.out, "Delete all interactions older than %d days? [y/N] ", *days)
		answer, _ := bufio.NewReader(a.in).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(a.out, "Aborted.")
			return nil
		}
	}

	interactions, sessions, err := db.Cleanup(ctx, a.db, time.Now().AddDate(0, 0, -*days))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %d interactions and %d sessions.\n", interactions, sessions)
	return nil
}

// write sends text output to stdout unless a path is given. Binary output
// always goes to a file, defaulting to the exports dir.
func (a *adminCmd) write(path, defaultName string, body []byte) error {
	binary := strings.HasSuffix(defaultName, ".xlsx")
	if path == "-" || (path == "" && !binary) {
		_, err := a.out.Write(body)
		return err
	}
	if path == "" {
		path = filepath.Join(a.cfg.Paths.Exports, defaultName)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Wrote %s\n", path)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
