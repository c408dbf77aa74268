package pdf

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// StatementData is a pre-formatted view of one account's credit history.
type StatementData struct {
	ProductName  string
	AccountName  string
	AccountEmail string
	IssuedAt     string
	InitialGrant int64
	Balance      int64
	Lines        []StatementLine
	// Truncated is set when older entries were left out.
	Truncated bool
}

type StatementLine struct {
	Date         string
	Description  string
	Amount       int64
	BalanceAfter int64
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateStatement(ctx context.Context, data StatementData) (io.Reader, error) {
	if strings.TrimSpace(data.AccountEmail) == "" {
		return nil, ErrEmptyStatement
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	product := data.ProductName
	if product == "" {
		product = "PixelCredit"
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, "Credit statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, product, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New(data.AccountName, props.Text{Style: fontstyle.Bold}),
			text.New(data.AccountEmail, props.Text{Top: 5}),
			text.New("Issued: "+data.IssuedAt, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Initial grant: "+formatCredits(data.InitialGrant), props.Text{Align: align.Right}),
			text.New("Current balance: "+formatCredits(data.Balance), props.Text{Top: 5, Style: fontstyle.Bold, Align: align.Right}),
		),
	)

	m.AddRow(10,
		text.NewCol(3, "Date", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(5, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Credits", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Balance", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	if len(data.Lines) == 0 {
		m.AddRow(8, text.NewCol(12, "No credit activity yet.", props.Text{Size: 9}))
	}
	for _, item := range data.Lines {
		m.AddRow(7,
			text.NewCol(3, item.Date, props.Text{Size: 8}),
			text.NewCol(5, item.Description, props.Text{Size: 8}),
			text.NewCol(2, formatSigned(item.Amount), props.Text{Size: 8, Align: align.Right}),
			text.NewCol(2, formatCredits(item.BalanceAfter), props.Text{Size: 8, Align: align.Right}),
		)
	}

	if data.Truncated {
		m.AddRow(8, text.NewCol(12, "Older entries are available through the API.", props.Text{Size: 8, Style: fontstyle.Italic, Top: 2}))
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

func formatCredits(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatSigned(v int64) string {
	if v > 0 {
		return "+" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}
