// Package export publishes the NAV history as a report: one sheet per fund,
// one row per NAV snapshot, written to an .xlsx workbook or a Google
// spreadsheet.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/openfund/accounting/internal/domain"
)

// Report is the assembled NAV history for all funds.
type Report struct {
	GeneratedAt time.Time
	Funds       []FundReport
}

// FundReport is one fund's NAV rows, oldest first.
type FundReport struct {
	Fund domain.Fund
	Navs []domain.Nav
}

// ReportWriter writes an assembled report to a destination.
type ReportWriter interface {
	Write(ctx context.Context, report Report) error
}

// FundLister lists the funds to report on.
type FundLister interface {
	ListActive(ctx context.Context, at time.Time) ([]domain.Fund, error)
}

// NavLister lists a fund's NAV snapshots.
type NavLister interface {
	ListByFund(ctx context.Context, fundID int64) ([]domain.Nav, error)
}

// ReportService assembles the NAV history and delegates writing.
type ReportService struct {
	funds  FundLister
	navs   NavLister
	writer ReportWriter
	now    func() time.Time
}

// NewReportService creates a new ReportService.
func NewReportService(funds FundLister, navs NavLister, writer ReportWriter) *ReportService {
	return &ReportService{
		funds:  funds,
		navs:   navs,
		writer: writer,
		now:    time.Now,
	}
}

// Export assembles the report for every active fund and writes it.
func (s *ReportService) Export(ctx context.Context) error {
	report, err := s.Build(ctx)
	if err != nil {
		return err
	}
	return s.writer.Write(ctx, report)
}

// Build assembles the report without writing it.
func (s *ReportService) Build(ctx context.Context) (Report, error) {
	funds, err := s.funds.ListActive(ctx, s.now())
	if err != nil {
		return Report{}, fmt.Errorf("listing funds: %w", err)
	}

	report := Report{GeneratedAt: s.now(), Funds: make([]FundReport, 0, len(funds))}
	for _, fund := range funds {
		navs, err := s.navs.ListByFund(ctx, fund.ID)
		if err != nil {
			return Report{}, fmt.Errorf("listing navs for fund %d: %w", fund.ID, err)
		}
		report.Funds = append(report.Funds, FundReport{Fund: fund, Navs: navs})
	}
	return report, nil
}

// navHeader is the column layout shared by all writers.
var navHeader = []any{
	"Period", "Type", "Total Shares", "Total Value", "Share Gross", "Share NAV",
	"Share HWM", "Admin Fee", "Perf Fee", "In/Out Value", "In/Out Shares", "Rate",
}

// navRows renders one fund's NAVs into sheet rows, header included.
func navRows(fr FundReport) [][]any {
	rows := make([][]any, 0, len(fr.Navs)+1)
	rows = append(rows, navHeader)
	return append(rows, lo.Map(fr.Navs, func(n domain.Nav, _ int) []any {
		return []any{
			n.BookingPeriod, string(n.Type),
			toFloat(n.TotalShares), toFloat(n.TotalValue),
			toFloat(n.ShareGross), toFloat(n.ShareNAV), toFloat(n.ShareHWM),
			toFloat(n.AdministrationFee), toFloat(n.PerformanceFee),
			toFloat(n.InOutValue), toFloat(n.InOutShares),
			toFloat(n.CurrencyRate),
		}
	})...)
}
