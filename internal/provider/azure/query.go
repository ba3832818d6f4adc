package azure

import (
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/shopspring/decimal"

	"github.com/zgpcy/cloudspend/internal/provider"
)

// costColumns are the column names the aggregated cost may come back under
var costColumns = []string{"Cost", "totalCost", "PreTaxCost"}

// buildColumnMap creates a map of column names to their indices
func buildColumnMap(columns []*armcostmanagement.QueryColumn) map[string]int {
	columnMap := make(map[string]int)
	for i, col := range columns {
		if col.Name != nil {
			columnMap[*col.Name] = i
		}
	}
	return columnMap
}

// parseCost extracts a cost cell
func parseCost(value any) decimal.Decimal {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	default:
		return decimal.Zero
	}
}

// sumCost adds the cost column over every row of a query result. An empty
// result is a zero cost; rows without a cost column are malformed.
func sumCost(result armcostmanagement.QueryResult) (decimal.Decimal, error) {
	if result.Properties == nil || len(result.Properties.Rows) == 0 {
		return decimal.Zero, nil
	}

	columnMap := buildColumnMap(result.Properties.Columns)
	costIdx, ok := -1, false
	for _, name := range costColumns {
		if costIdx, ok = columnMap[name]; ok {
			break
		}
	}
	if !ok {
		return decimal.Zero, provider.Unknown(Name, "query result has no cost column", nil)
	}

	total := decimal.Zero
	for _, row := range result.Properties.Rows {
		if len(row) <= costIdx {
			continue
		}
		total = total.Add(parseCost(row[costIdx]))
	}
	return total, nil
}

func stringPtr(s string) *string {
	return &s
}

func functionPtr(f armcostmanagement.FunctionType) *armcostmanagement.FunctionType {
	return &f
}
