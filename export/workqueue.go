/*
Package export renders collector work queues.

PURPOSE:
  Collectors plan their day from a list of active contracts per route,
  worst first. The list is read from the persisted PendingStatus cache, so
  it reflects the last recompute run and never triggers one.

ORDER:
  Routes by ID. Within a route: red, yellow, green, then contracts never
  classified; inside a color by days expired (descending), then contract ID.

OUTPUT:
  One XLSX sheet with a route header row before each route's contracts.
  Export optionally uploads the workbook to S3-compatible storage.

SEE ALSO:
  - loan/store.go: WorkQueueRepository
  - s3.go: Uploader
*/
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/warp/collection-engine/generic"
	"github.com/warp/collection-engine/loan"
)

const (
	sheetName = "Work queue"

	// ContentTypeXLSX is the MIME type of rendered workbooks.
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var header = []any{
	"Route", "Contract", "Client", "Color", "Late", "Incomplete",
	"Days expired", "Pending amount", "Surcharge", "Last payment", "Evaluated on",
}

// Route is one collector route and its contracts, worst first.
type Route struct {
	RouteID string
	Items   []loan.WorkQueueItem
}

// Order groups items by route and sorts them for collection.
func Order(items []loan.WorkQueueItem) []Route {
	byRoute := make(map[string][]loan.WorkQueueItem)
	for _, it := range items {
		byRoute[it.RouteID] = append(byRoute[it.RouteID], it)
	}

	routes := make([]Route, 0, len(byRoute))
	for id, its := range byRoute {
		sort.SliceStable(its, func(i, j int) bool { return before(its[i], its[j]) })
		routes = append(routes, Route{RouteID: id, Items: its})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].RouteID < routes[j].RouteID })
	return routes
}

func before(a, b loan.WorkQueueItem) bool {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra > rb
	}
	if a.Status != nil && b.Status != nil && a.Status.DaysExpired != b.Status.DaysExpired {
		return a.Status.DaysExpired > b.Status.DaysExpired
	}
	return a.ContractID < b.ContractID
}

// rank is the color severity, or -1 for contracts with no status yet.
func rank(it loan.WorkQueueItem) int {
	if it.Status == nil {
		return -1
	}
	return it.Status.Color.Severity()
}

// =============================================================================
// EXPORTER
// =============================================================================

// Exporter reads work queues from the store and renders them.
type Exporter struct {
	Repo     loan.WorkQueueRepository
	Uploader Uploader // nil disables Export
	Log      *logrus.Entry
	Clock    func() time.Time
}

func NewExporter(repo loan.WorkQueueRepository, uploader Uploader, log *logrus.Entry) *Exporter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Exporter{Repo: repo, Uploader: uploader, Log: log, Clock: time.Now}
}

// Build loads and orders the work queue of a company.
func (e *Exporter) Build(ctx context.Context, companyID generic.CompanyID) ([]Route, error) {
	if companyID == "" {
		return nil, fmt.Errorf("%w: company is required", generic.ErrInvalidInput)
	}
	items, err := e.Repo.ListWorkQueue(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return Order(items), nil
}

// Render writes the company's work queue as XLSX to w.
func (e *Exporter) Render(ctx context.Context, companyID generic.CompanyID, w io.Writer) error {
	routes, err := e.Build(ctx, companyID)
	if err != nil {
		return err
	}
	return WriteXLSX(w, routes)
}

// Export renders the work queue and uploads it. Returns the object key.
func (e *Exporter) Export(ctx context.Context, companyID generic.CompanyID) (string, error) {
	if e.Uploader == nil {
		return "", &generic.ConfigurationError{CompanyID: companyID, Field: "s3", Reason: "object storage is not configured"}
	}

	var buf bytes.Buffer
	if err := e.Render(ctx, companyID, &buf); err != nil {
		return "", err
	}

	key := ObjectKey(companyID, e.Clock())
	if err := e.Uploader.Upload(ctx, key, buf.Bytes(), ContentTypeXLSX); err != nil {
		return "", err
	}
	e.Log.WithFields(logrus.Fields{
		"company_id": companyID,
		"key":        key,
		"bytes":      buf.Len(),
	}).Info("work queue exported")
	return key, nil
}

// ObjectKey is where a company's work queue for a given day is stored.
func ObjectKey(companyID generic.CompanyID, at time.Time) string {
	return fmt.Sprintf("work-queue/%s/%s.xlsx", companyID, generic.DateOf(at))
}

// =============================================================================
// XLSX
// =============================================================================

// WriteXLSX renders routes into a single-sheet workbook.
func WriteXLSX(w io.Writer, routes []Route) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	styles, err := newStyles(f)
	if err != nil {
		return err
	}

	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", lastCell(1), styles.header); err != nil {
		return err
	}

	row := 2
	for _, r := range routes {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, cell, &[]any{routeLabel(r.RouteID)}); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheetName, cell, lastCell(row), styles.route); err != nil {
			return err
		}
		row++

		for _, it := range r.Items {
			cell, _ = excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(sheetName, cell, itemRow(it)); err != nil {
				return err
			}
			if it.Status != nil {
				colorCell, _ := excelize.CoordinatesToCellName(4, row)
				if err := f.SetCellStyle(sheetName, colorCell, colorCell, styles.color[it.Status.Color]); err != nil {
					return err
				}
			}
			amountFrom, _ := excelize.CoordinatesToCellName(8, row)
			amountTo, _ := excelize.CoordinatesToCellName(9, row)
			if err := f.SetCellStyle(sheetName, amountFrom, amountTo, styles.money); err != nil {
				return err
			}
			row++
		}
	}

	if err := f.SetColWidth(sheetName, "A", "K", 16); err != nil {
		return err
	}
	return f.Write(w)
}

func itemRow(it loan.WorkQueueItem) *[]any {
	st := it.Status
	if st == nil {
		return &[]any{it.RouteID, string(it.ContractID), it.ClientName, "unclassified"}
	}
	lastPayment := ""
	if st.LastPaymentDate != nil {
		lastPayment = st.LastPaymentDate.String()
	}
	return &[]any{
		it.RouteID,
		string(it.ContractID),
		it.ClientName,
		string(st.Color),
		st.PaymentsLate,
		st.PaymentsIncomplete,
		st.DaysExpired,
		st.PendingAmount.Decimal().InexactFloat64(),
		st.SurchargeAmount.Decimal().InexactFloat64(),
		lastPayment,
		st.EvaluatedOn.String(),
	}
}

func routeLabel(id string) string {
	if id == "" {
		return "No route"
	}
	return "Route " + id
}

func lastCell(row int) string {
	cell, _ := excelize.CoordinatesToCellName(len(header), row)
	return cell
}

type sheetStyles struct {
	header int
	route  int
	money  int
	color  map[loan.Color]int
}

func newStyles(f *excelize.File) (sheetStyles, error) {
	var (
		s   = sheetStyles{color: make(map[loan.Color]int)}
		err error
	)
	if s.header, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return s, err
	}
	if s.route, err = f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9D9D9"}},
	}); err != nil {
		return s, err
	}
	if s.money, err = f.NewStyle(&excelize.Style{NumFmt: 4}); err != nil {
		return s, err
	}
	fills := map[loan.Color]string{
		loan.ColorRed:    "#F4B6B6",
		loan.ColorYellow: "#FFE699",
		loan.ColorGreen:  "#C6EFCE",
	}
	for c, hex := range fills {
		id, err := f.NewStyle(&excelize.Style{Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{hex}}})
		if err != nil {
			return s, err
		}
		s.color[c] = id
	}
	return s, nil
}
