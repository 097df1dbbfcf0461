package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/pavescan/road-defect-service/detections"
	"github.com/pavescan/road-defect-service/models"
)

var debugMode bool

func init() {
	debugMode = os.Getenv("DEBUG") == "true"
}

func logTimings(t *models.ProcessingTimings) {
	if debugMode {
		log.Printf("[DEBUG] RequestID: %s - Processing times:\n"+
			"\tPreprocess:  %v\n"+
			"\tInference:   %v\n"+
			"\tDecode:      %v\n"+
			"\tPostprocess: %v\n"+
			"\tTotal:       %v",
			t.RequestID,
			t.Preprocess,
			t.Inference,
			t.Decode,
			t.Postprocess,
			t.Total)
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	modelPath := os.Getenv("MODEL_PATH")
	if modelPath == "" {
		modelPath = "models/roadscan_640.onnx"
	}

	libPath, err := resolveRuntimeLibrary()
	if err != nil {
		log.Fatalf("Failed to locate ONNX runtime library: %v", err)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		log.Fatalf("Failed to initialize ONNX environment: %v", err)
	}
	defer ort.DestroyEnvironment()

	pipeline := detections.NewPipeline(detections.NewONNXEngine())
	if err := pipeline.LoadModel(modelPath); err != nil {
		// Stay up in a retryable error state; POST /model/reload recovers.
		log.Printf("Model load failed (state=%s): %v", pipeline.State(), err)
	}
	defer pipeline.Dispose()

	state := &AppState{
		ModelPath: modelPath,
		Pipeline:  pipeline,
	}

	r := mux.NewRouter()
	r.HandleFunc("/frames", state.handleSubmitFrame).Methods("POST")
	r.HandleFunc("/model/reload", state.handleReloadModel).Methods("POST")
	r.HandleFunc("/status", state.handleStatus).Methods("GET")
	r.HandleFunc("/metrics", state.handleMetrics).Methods("GET")

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	srv := &http.Server{
		Handler:      r,
		Addr:         addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	log.Printf("Starting server on %s", srv.Addr)
	log.Fatal(srv.ListenAndServe())
}
