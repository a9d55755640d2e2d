package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-markup/internal/document"
	"github.com/zombor/invoice-markup/internal/invoice"
)

func multipartUpload(filename, contentType string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeBody(resp *http.Response, v any) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
}

func postJSON(url string, v any) *http.Response {
	payload, err := json.Marshal(v)
	Expect(err).NotTo(HaveOccurred())
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	Expect(err).NotTo(HaveOccurred())
	return resp
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(db, scanner, storage, document.NewRenderer(),
			&mockIDGenerator{ids: []string{"draft-1"}}, &mockTimeSource{})
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	readyDraft := func() *Draft {
		record, err := invoice.Normalize(cottonYarnPayload, validMetadata())
		Expect(err).NotTo(HaveOccurred())
		return &Draft{ID: "ready", State: StateReady, Invoice: record}
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = &mockScanner{response: cottonYarnPayload}
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleUpload", func() {
		When("a PDF is uploaded", func() {
			It("should create a draft awaiting client details", func() {
				body, contentType := multipartUpload("supplier.pdf", "application/pdf", []byte("%PDF-1.4"))
				resp, err := http.Post(ghttpServer.URL()+"/api/invoices", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var draft Draft
				decodeBody(resp, &draft)
				Expect(draft.ID).To(Equal("draft-1"))
				Expect(draft.State).To(Equal(StateAwaitingClientDetails))
			})
		})

		When("the part has no content type", func() {
			It("should infer it from the extension", func() {
				body, contentType := multipartUpload("photo.JPG", "", []byte("jpeg"))
				resp, err := http.Post(ghttpServer.URL()+"/api/invoices", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var draft Draft
				decodeBody(resp, &draft)
				Expect(draft.ContentType).To(Equal("image/jpeg"))
			})
		})

		When("the file type is not supported", func() {
			It("should return status Unsupported Media Type", func() {
				body, contentType := multipartUpload("notes.txt", "text/plain", []byte("hello"))
				resp, err := http.Post(ghttpServer.URL()+"/api/invoices", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
				resp.Body.Close()
				Expect(scanner.calls).To(Equal(0))
			})
		})

		When("the file is too large", func() {
			It("should return status Request Entity Too Large", func() {
				body, contentType := multipartUpload("big.pdf", "application/pdf", bytes.Repeat([]byte("a"), MaxUploadSize+1))
				resp, err := http.Post(ghttpServer.URL()+"/api/invoices", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
				resp.Body.Close()
			})
		})

		When("no file is provided", func() {
			It("should return status Bad Request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.WriteField("other", "x")).To(Succeed())
				Expect(writer.Close()).To(Succeed())
				resp, err := http.Post(ghttpServer.URL()+"/api/invoices", writer.FormDataContentType(), body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("scanning fails", func() {
			BeforeEach(func() {
				scanner.err = errors.New("upstream timeout")
			})

			It("should return status Bad Gateway with the failed draft", func() {
				body, contentType := multipartUpload("supplier.pdf", "application/pdf", []byte("%PDF-1.4"))
				resp, err := http.Post(ghttpServer.URL()+"/api/invoices", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))

				var draft Draft
				decodeBody(resp, &draft)
				Expect(draft.State).To(Equal(StateFailed))
				Expect(draft.Error).To(ContainSubstring("upstream timeout"))
			})
		})
	})

	Describe("handleListDrafts", func() {
		When("no drafts exist", func() {
			It("should return an empty JSON array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("boom")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleGetDraft", func() {
		When("the draft does not exist", func() {
			It("should return status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices/missing")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})

		When("the draft exists", func() {
			BeforeEach(func() {
				db.drafts["d1"] = &Draft{ID: "d1", State: StateAwaitingClientDetails}
			})

			It("should return it", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices/d1")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var draft Draft
				decodeBody(resp, &draft)
				Expect(draft.State).To(Equal(StateAwaitingClientDetails))
			})
		})
	})

	Describe("handleGetSourceFile", func() {
		BeforeEach(func() {
			db.drafts["d1"] = &Draft{ID: "d1", Filename: "d1_a.pdf", ContentType: "application/pdf"}
			storage.files["d1_a.pdf"] = []byte("%PDF-source")
		})

		It("should return the uploaded file", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/invoices/d1/source")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("%PDF-source"))
		})
	})

	Describe("handleDeleteDraft", func() {
		BeforeEach(func() {
			db.drafts["d1"] = &Draft{ID: "d1", Filename: "d1_a.pdf"}
			storage.files["d1_a.pdf"] = []byte("x")
		})

		It("should return status No Content", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/invoices/d1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
			Expect(db.drafts).To(BeEmpty())
			Expect(storage.files).To(BeEmpty())
		})
	})

	Describe("handleSubmitDetails", func() {
		BeforeEach(func() {
			db.drafts["d1"] = &Draft{ID: "d1", State: StateAwaitingClientDetails, Payload: cottonYarnPayload}
		})

		When("the details are complete", func() {
			It("should return the ready draft", func() {
				resp := postJSON(ghttpServer.URL()+"/api/invoices/d1/details", validMetadata())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var draft Draft
				decodeBody(resp, &draft)
				Expect(draft.State).To(Equal(StateReady))
				Expect(draft.Invoice.MarkupTotal.StringFixed(2)).To(Equal("256.25"))
			})
		})

		When("a field is missing", func() {
			It("should return status Bad Request naming the field", func() {
				md := validMetadata()
				md.InvoiceNumber = ""
				resp := postJSON(ghttpServer.URL()+"/api/invoices/d1/details", md)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body errorResponse
				decodeBody(resp, &body)
				Expect(body.Fields).To(Equal([]string{"invoiceNumber"}))
			})
		})

		When("the payload has no items", func() {
			BeforeEach(func() {
				db.drafts["d1"].Payload = `{"foo": 1}`
			})

			It("should return status Unprocessable Entity naming the stage", func() {
				resp := postJSON(ghttpServer.URL()+"/api/invoices/d1/details", validMetadata())
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				var body errorResponse
				decodeBody(resp, &body)
				Expect(body.Stage).To(Equal("validate"))
				Expect(body.Error).To(ContainSubstring("missing items"))
			})
		})

		When("the draft has failed", func() {
			BeforeEach(func() {
				db.drafts["d1"].State = StateFailed
			})

			It("should return status Conflict", func() {
				resp := postJSON(ghttpServer.URL()+"/api/invoices/d1/details", validMetadata())
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				resp.Body.Close()
			})
		})

		When("the body is not JSON", func() {
			It("should return status Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/invoices/d1/details", "application/json", strings.NewReader("{"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("handleGetDocument", func() {
		When("the draft is ready", func() {
			BeforeEach(func() {
				db.drafts["ready"] = readyDraft()
			})

			It("should download the PDF as an attachment", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices/ready/document")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))
				Expect(resp.Header.Get("Content-Disposition")).To(Equal(`attachment; filename=omega-invoice-INV-1.pdf`))
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(body)).To(HavePrefix("%PDF-"))
			})
		})

		When("the draft is still waiting for details", func() {
			BeforeEach(func() {
				db.drafts["d1"] = &Draft{ID: "d1", State: StateAwaitingClientDetails}
			})

			It("should return status Conflict", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices/d1/document")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				resp.Body.Close()
			})
		})
	})

	Describe("handleRender", func() {
		When("the payload is a parsed object", func() {
			It("should return the PDF", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/render", "application/json", strings.NewReader(`{
					"payload": {"data": {"items": [{"description": "Cotton Yarn", "quantity": 100, "unitPrice": 2.5, "currency": "USD"}]}},
					"metadata": {"invoiceNumber": "INV 7", "paymentTerms": "Net 30",
						"client": {"name": "Acme", "address": "1 Main St", "taxId": "IL123"}}
				}`))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("omega-invoice-INV-7.pdf"))
			})
		})

		When("the payload is raw text", func() {
			It("should return status Unprocessable Entity for unparsable text", func() {
				resp := postJSON(ghttpServer.URL()+"/api/render", map[string]any{
					"payload":  "not json at all",
					"metadata": validMetadata(),
				})
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				var body errorResponse
				decodeBody(resp, &body)
				Expect(body.Stage).To(Equal("extract"))
			})
		})

		When("metadata is missing", func() {
			It("should return status Bad Request", func() {
				resp := postJSON(ghttpServer.URL()+"/api/render", map[string]any{"payload": cottonYarnPayload})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body errorResponse
				decodeBody(resp, &body)
				Expect(body.Fields).To(HaveLen(5))
			})
		})
	})

	Describe("Run", func() {
		It("shuts down when the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errc := make(chan error, 1)
			go func() {
				errc <- server.Run(ctx, "127.0.0.1:0")
			}()

			Consistently(errc, 100*time.Millisecond).ShouldNot(Receive())
			cancel()
			Eventually(errc, 5*time.Second).Should(Receive(BeNil()))
		})

		It("reports listen failures", func() {
			err := server.Run(context.Background(), "127.0.0.1:-1")
			Expect(err).To(MatchError(ContainSubstring("serving http")))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
		})

		When("credentials are missing", func() {
			It("should return status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
				Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
				resp.Body.Close()
			})
		})

		When("credentials are wrong", func() {
			It("should return status Unauthorized", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/invoices", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "wrong")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})

		When("credentials are correct", func() {
			It("should return status OK", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/invoices", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("admin", "secret")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/invoices", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("DELETE"))
			resp.Body.Close()
		})
	})
})

var _ = DescribeTable("detectContentType",
	func(filename, header, expected string) {
		Expect(detectContentType(filename, header)).To(Equal(expected))
	},
	Entry("header wins", "scan.bin", "application/pdf", "application/pdf"),
	Entry("header parameters are dropped", "a.pdf", "Application/PDF; name=a.pdf", "application/pdf"),
	Entry("octet-stream falls back to the extension", "a.PDF", "application/octet-stream", "application/pdf"),
	Entry("heic photo", "IMG_0001.HEIC", "", "image/heic"),
	Entry("unknown", "a.docx", "", "application/octet-stream"),
)
