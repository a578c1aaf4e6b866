package httpapi

import (
	"net/http"
	"time"

	"claims-dialer/internal/reporting"

	"github.com/gin-gonic/gin"
)

// CallsReport returns the routing summary for ?from=&to= (RFC 3339).
// Defaults to the last 24 hours.
func (h Handlers) CallsReport(c *gin.Context) {
	to := h.now().UTC()
	from := to.Add(-24 * time.Hour)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		to = t
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range: reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err, "report failed")
		return
	}
	c.JSON(http.StatusOK, out)
}
