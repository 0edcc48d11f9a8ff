package ledger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"google.golang.org/api/option"
)

var _ = Describe("SheetsLedger", func() {
	const (
		spreadsheetID = "sheet-id"
		columnAPath   = "/v4/spreadsheets/sheet-id/values/'PetrolSF'!A:A"
	)

	var (
		server *ghttp.Server
		ledger *SheetsLedger
		ctx    context.Context
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		ctx = context.Background()
		var err error
		ledger, err = NewSheetsLedger(ctx, spreadsheetID, "",
			option.WithEndpoint(server.URL()+"/"),
			option.WithoutAuthentication(),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	columnA := func(values ...string) http.HandlerFunc {
		rows := make([][]string, len(values))
		for i, v := range values {
			rows[i] = []string{v}
		}
		return ghttp.CombineHandlers(
			ghttp.VerifyRequest("GET", columnAPath),
			ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
				"range":          "'PetrolSF'!A1:A100",
				"majorDimension": "ROWS",
				"values":         rows,
			}),
		)
	}

	Describe("NewSheetsLedger", func() {
		It("should require a spreadsheet id", func() {
			_, err := NewSheetsLedger(ctx, "", "", option.WithoutAuthentication())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("worksheet names", func() {
		It("should quote names with spaces and apostrophes", func() {
			named, err := NewSheetsLedger(ctx, spreadsheetID, "Fuel Log's",
				option.WithEndpoint(server.URL()+"/"),
				option.WithoutAuthentication(),
			)
			Expect(err).NotTo(HaveOccurred())
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("GET", "/v4/spreadsheets/sheet-id/values/'Fuel Log''s'!A:A"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
					"values": [][]string{{"Date"}},
				}),
			))

			mileage, err := named.PreviousMileage(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(mileage).To(BeZero())
			Expect(server.ReceivedRequests()).To(HaveLen(1))
		})
	})

	Describe("PreviousMileage", func() {
		When("rows exist", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					columnA("Date", "010821", "150821"),
					ghttp.CombineHandlers(
						ghttp.VerifyRequest("GET", "/v4/spreadsheets/sheet-id/values/'PetrolSF'!B3"),
						ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
							"range":  "'PetrolSF'!B3",
							"values": [][]interface{}{{"12000"}},
						}),
					),
				)
			})

			It("should return the last row's mileage", func() {
				mileage, err := ledger.PreviousMileage(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(mileage).To(Equal(12000))
			})
		})

		When("only the header exists", func() {
			BeforeEach(func() {
				server.AppendHandlers(columnA("Date"))
			})

			It("should return zero without reading column B", func() {
				mileage, err := ledger.PreviousMileage(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(mileage).To(BeZero())
				Expect(server.ReceivedRequests()).To(HaveLen(1))
			})
		})

		When("the mileage cell is not a number", func() {
			BeforeEach(func() {
				server.AppendHandlers(
					columnA("Date", "150821"),
					ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]interface{}{
						"values": [][]interface{}{{"n/a"}},
					}),
				)
			})

			It("should return a parse error", func() {
				_, err := ledger.PreviousMileage(ctx)
				Expect(err).To(MatchError(ContainSubstring("parsing mileage at row 2")))
			})
		})

		When("the API fails", func() {
			BeforeEach(func() {
				server.SetAllowUnhandledRequests(true)
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, `{"error":{"code":500,"message":"boom"}}`))
			})

			It("should return the error", func() {
				_, err := ledger.PreviousMileage(ctx)
				Expect(err).To(MatchError(ContainSubstring("reading column A")))
			})
		})
	})

	Describe("AppendRecord", func() {
		var (
			row         int
			err         error
			rowBody     map[string]interface{}
			formulaBody map[string]interface{}
		)

		decodeInto := func(target *map[string]interface{}) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				defer GinkgoRecover()
				body, readErr := io.ReadAll(r.Body)
				Expect(readErr).NotTo(HaveOccurred())
				Expect(json.Unmarshal(body, target)).To(Succeed())
			}
		}

		BeforeEach(func() {
			rowBody = nil
			formulaBody = nil
			server.AppendHandlers(
				columnA("Date", "010821", "150821"),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest("PUT", "/v4/spreadsheets/sheet-id/values/'PetrolSF'!A4:D4"),
					func(w http.ResponseWriter, r *http.Request) {
						defer GinkgoRecover()
						Expect(r.URL.Query().Get("valueInputOption")).To(Equal("RAW"))
					},
					decodeInto(&rowBody),
					ghttp.RespondWith(http.StatusOK, `{"updatedRows":1}`),
				),
				ghttp.CombineHandlers(
					ghttp.VerifyRequest("POST", "/v4/spreadsheets/sheet-id/values:batchUpdate"),
					decodeInto(&formulaBody),
					ghttp.RespondWith(http.StatusOK, `{"totalUpdatedCells":2}`),
				),
			)
		})

		JustBeforeEach(func() {
			row, err = ledger.AppendRecord(ctx, Entry{Date: "150821", Mileage: 12050, Refilled: 35.2, CostPerLitre: 2.15})
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the written row", func() {
			Expect(row).To(Equal(4))
		})

		It("should write date, mileage, refilled and cost per litre", func() {
			Expect(rowBody["values"]).To(Equal([]interface{}{
				[]interface{}{"150821", float64(12050), 35.2, 2.15},
			}))
		})

		It("should write both derived formulas as user-entered values", func() {
			Expect(formulaBody["valueInputOption"]).To(Equal("USER_ENTERED"))
			data, ok := formulaBody["data"].([]interface{})
			Expect(ok).To(BeTrue())
			Expect(data).To(HaveLen(2))
			Expect(data[0]).To(HaveKeyWithValue("range", "'PetrolSF'!E4"))
			Expect(data[0]).To(HaveKeyWithValue("values", []interface{}{[]interface{}{"=C4*D4*0.84"}}))
			Expect(data[1]).To(HaveKeyWithValue("range", "'PetrolSF'!G4"))
			Expect(data[1]).To(HaveKeyWithValue("values", []interface{}{[]interface{}{"=(B4-B3)/C4"}}))
		})
	})
})
