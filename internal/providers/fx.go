package providers

import (
	"github.com/smallbiznis/pixelcredit/internal/providers/imagegen"
	"github.com/smallbiznis/pixelcredit/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	imagegen.Module,
	pdf.Module,
)
