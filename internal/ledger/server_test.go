package ledger

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/coincard/internal/export"
	"github.com/zombor/coincard/internal/query"
	"github.com/zombor/coincard/internal/record"
	"github.com/zombor/coincard/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		records     *mockRecords
		tags        *mockVocabulary
		storage     *mockStorage
		scanner     *mockScanner
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		records = newMockRecords()
		tags = &mockVocabulary{}
		storage = newMockStorage()
		scanner = &mockScanner{reply: "Amount: 50,000, Recipient: Tran Thi B"}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		timeSrc := &mockTimeSource{now: time.Date(2025, 3, 2, 10, 4, 5, 0, time.UTC)}
		service := NewServiceWithDeps(records, tags, scanner, storage, time.UTC, &mockIDGenerator{id: "id-1"}, timeSrc)
		server := NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	do := func(method, path string, body io.Reader) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	decode := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	Describe("POST /api/scan", func() {
		upload := func(name string, data []byte) *http.Response {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			part, err := writer.CreateFormFile("file", name)
			Expect(err).NotTo(HaveOccurred())
			part.Write(data)
			Expect(writer.Close()).To(Succeed())

			resp, err := http.Post(ghttpServer.URL()+"/api/scan", writer.FormDataContentType(), &b)
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(resp.Body.Close)
			return resp
		}

		It("returns the draft", func() {
			resp := upload("cash.jpg", []byte("fake image data"))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var draft Draft
			decode(resp, &draft)
			Expect(draft.Recipient).To(Equal("Tran Thi B"))
			Expect(draft.Amount).To(Equal(int64(50000)))
			Expect(draft.AmountText).To(Equal("50,000"))
			Expect(draft.ImageURI).To(Equal("id-1_cash.jpg"))
		})

		When("classification fails", func() {
			BeforeEach(func() {
				scanner.err = scanning.ErrClassification
			})

			It("still returns a draft with the error", func() {
				resp := upload("cash.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var draft Draft
				decode(resp, &draft)
				Expect(draft.AnalysisError).To(ContainSubstring("classification failed"))
				Expect(draft.Amount).To(BeZero())
			})
		})

		It("rejects a request without a file", func() {
			resp := do(http.MethodPost, "/api/scan", strings.NewReader("{}"))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects an empty file", func() {
			resp := upload("cash.jpg", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/analyze", func() {
		It("returns the raw reply as result", func() {
			body := `{"image":"` + base64.StdEncoding.EncodeToString([]byte("img")) + `"}`
			resp := do(http.MethodPost, "/api/analyze", strings.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out scanning.AnalyzeResponse
			decode(resp, &out)
			Expect(out.Result).To(Equal("Amount: 50,000, Recipient: Tran Thi B"))
			Expect(out.Error).To(BeEmpty())
		})

		It("returns an error payload when classification fails", func() {
			scanner.err = scanning.ErrClassification
			body := `{"image":"` + base64.StdEncoding.EncodeToString([]byte("img")) + `"}`
			resp := do(http.MethodPost, "/api/analyze", strings.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

			var out scanning.AnalyzeResponse
			decode(resp, &out)
			Expect(out.Error).To(ContainSubstring("classification failed"))
		})

		It("rejects a missing image", func() {
			resp := do(http.MethodPost, "/api/analyze", strings.NewReader(`{}`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("records", func() {
		BeforeEach(func() {
			base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			storage.files["a.png"] = []byte("\x89PNG\r\n\x1a\n0000")
			records.records = []*record.Record{
				{ID: 1, Recipient: "Nguyen Van A", Amount: 20000, ImageURI: "a.png", CreatedAt: base, Hashtags: []string{"food"}},
				{ID: 2, Recipient: "Tran Thi B", Amount: 50000, ImageURI: PlaceholderImage, CreatedAt: base.AddDate(0, 0, 1), Hashtags: []string{"rent"}},
				{ID: 3, Recipient: "Nguyen C", Amount: 10000, ImageURI: PlaceholderImage, CreatedAt: base.AddDate(0, 0, 2), Hashtags: []string{"food"}},
			}
		})

		Describe("GET /api/records", func() {
			It("lists by amount descending with the total", func() {
				resp := do(http.MethodGet, "/api/records", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var view query.View
				decode(resp, &view)
				Expect(view.Records).To(HaveLen(3))
				Expect(view.Records[0].ID).To(Equal(int64(2)))
				Expect(view.Total).To(Equal(int64(80000)))
				Expect(view.Count).To(Equal(3))
			})

			It("applies search, tag and sort", func() {
				resp := do(http.MethodGet, "/api/records?q=nguyen&tag=food&sort=date_desc", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var view query.View
				decode(resp, &view)
				Expect(view.Records).To(HaveLen(2))
				Expect(view.Records[0].ID).To(Equal(int64(3)))
				Expect(view.Total).To(Equal(int64(30000)))
			})

			It("rejects an unknown sort", func() {
				resp := do(http.MethodGet, "/api/records?sort=random", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})

			It("returns 500 when the store fails", func() {
				records.readErr = errBoom
				resp := do(http.MethodGet, "/api/records", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(ContainSubstring("Internal server error"))
				Expect(string(body)).NotTo(ContainSubstring("boom"))
			})
		})

		Describe("POST /api/records", func() {
			It("creates a record", func() {
				body := `{"recipient":"Le D","amount":"75,000","hashtags":["gift"]}`
				resp := do(http.MethodPost, "/api/records", strings.NewReader(body))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var rec record.Record
				decode(resp, &rec)
				Expect(rec.ID).To(Equal(int64(4)))
				Expect(rec.Amount).To(Equal(int64(75000)))
				Expect(rec.ImageURI).To(Equal(PlaceholderImage))
				Expect(tags.tags).To(Equal([]string{"gift"}))
			})

			It("rejects a non-numeric amount", func() {
				resp := do(http.MethodPost, "/api/records", strings.NewReader(`{"recipient":"Le D","amount":"lots"}`))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(records.records).To(HaveLen(3))
			})

			It("rejects malformed JSON", func() {
				resp := do(http.MethodPost, "/api/records", strings.NewReader(`{`))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		Describe("GET /api/records/{id}", func() {
			It("returns the record", func() {
				resp := do(http.MethodGet, "/api/records/2", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var rec record.Record
				decode(resp, &rec)
				Expect(rec.Recipient).To(Equal("Tran Thi B"))
			})

			It("returns 404 for an unknown id", func() {
				resp := do(http.MethodGet, "/api/records/99", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})

			It("returns 400 for a non-numeric id", func() {
				resp := do(http.MethodGet, "/api/records/abc", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		Describe("PUT /api/records/{id}", func() {
			It("updates the record", func() {
				resp := do(http.MethodPut, "/api/records/1", strings.NewReader(`{"recipient":"Nguyen Van An","amount":"25000","hashtags":["food","gift"]}`))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var rec record.Record
				decode(resp, &rec)
				Expect(rec.Recipient).To(Equal("Nguyen Van An"))
				Expect(rec.Amount).To(Equal(int64(25000)))
				Expect(rec.ImageURI).To(Equal("a.png"))
			})

			It("returns 404 for an unknown id", func() {
				resp := do(http.MethodPut, "/api/records/99", strings.NewReader(`{"recipient":"X","amount":"1"}`))
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		Describe("DELETE /api/records/{id}", func() {
			It("deletes the record", func() {
				resp := do(http.MethodDelete, "/api/records/1", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				Expect(records.records).To(HaveLen(2))
				Expect(storage.files).NotTo(HaveKey("a.png"))
			})

			It("returns 404 for an unknown id", func() {
				resp := do(http.MethodDelete, "/api/records/99", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		Describe("DELETE /api/records", func() {
			BeforeEach(func() {
				tags.tags = []string{"food"}
			})

			It("empties the ledger", func() {
				resp := do(http.MethodDelete, "/api/records", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				Expect(records.records).To(BeEmpty())
				Expect(tags.tags).To(BeEmpty())
			})

			It("returns 500 when the records cannot be reset", func() {
				records.resetErr = errBoom
				resp := do(http.MethodDelete, "/api/records", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})

		Describe("GET /api/records/{id}/image", func() {
			It("returns the photo", func() {
				resp := do(http.MethodGet, "/api/records/1/image", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			})

			It("returns 404 for a manual record", func() {
				resp := do(http.MethodGet, "/api/records/2/image", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		Describe("GET /api/export", func() {
			It("downloads the filtered records as a workbook", func() {
				resp := do(http.MethodGet, "/api/export?tag=food", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal(export.ContentType))
				Expect(resp.Header.Get("Content-Disposition")).To(Equal(`attachment; filename="CoinCard_Export_2025-03-02T10-04-05.xlsx"`))

				f, err := excelize.OpenReader(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				defer f.Close()

				count, err := f.GetCellValue(export.SheetName, "B3")
				Expect(err).NotTo(HaveOccurred())
				Expect(count).To(Equal("2"))

				total, err := f.GetCellValue(export.SheetName, "B4")
				Expect(err).NotTo(HaveOccurred())
				Expect(total).To(Equal("30.000 ₫"))
			})
		})
	})

	Describe("hashtags", func() {
		It("lists the vocabulary", func() {
			tags.tags = []string{"food", "rent"}
			resp := do(http.MethodGet, "/api/hashtags", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out map[string][]string
			decode(resp, &out)
			Expect(out["hashtags"]).To(Equal([]string{"food", "rent"}))
		})

		It("adds to the vocabulary", func() {
			resp := do(http.MethodPost, "/api/hashtags", strings.NewReader(`{"hashtags":["travel"]}`))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out map[string][]string
			decode(resp, &out)
			Expect(out["hashtags"]).To(Equal([]string{"travel"}))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			resp := do(http.MethodOptions, "/api/records", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})

		It("sets headers on normal responses", func() {
			resp := do(http.MethodGet, "/api/hashtags", nil)
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
		})

		It("rejects requests without credentials", func() {
			resp := do(http.MethodGet, "/api/records", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("rejects wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/records", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts the configured credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/records", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("user", "pass")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
