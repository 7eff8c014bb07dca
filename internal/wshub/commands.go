package wshub

import (
	"encoding/json"
	"strconv"

	"github.com/sentinelflight/groundstation/internal/logger"
	"github.com/sentinelflight/groundstation/internal/metrics"
	"github.com/sentinelflight/groundstation/internal/pipeline"
	"github.com/sentinelflight/groundstation/internal/serialio"
	"github.com/sentinelflight/groundstation/internal/telemetry"
	"go.uber.org/zap"
)

// CommandHandler dispatches client requests to the serial manager, the
// parser registry and the fusion layer, and builds the response envelope
// {id, type:"response", command, success, ...payload|error}.
type CommandHandler struct {
	serial     *serialio.Manager
	registry   *telemetry.Registry
	dispatcher *pipeline.Dispatcher
	metrics    *metrics.Metrics
}

// NewCommandHandler wires the command surface to its collaborators.
func NewCommandHandler(serial *serialio.Manager, registry *telemetry.Registry, dispatcher *pipeline.Dispatcher, m *metrics.Metrics) *CommandHandler {
	return &CommandHandler{
		serial:     serial,
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    m,
	}
}

type request struct {
	ID      string `json:"id"`
	Command string `json:"command"`

	Port     string `json:"port"`
	Baudrate int    `json:"baudrate"`
	Data     string `json:"data"`
	NumBytes int    `json:"num_bytes"`

	ParserName   string            `json:"parser_name"`
	Delimiter    string            `json:"delimiter"`
	FieldNames   []string          `json:"field_names"`
	FieldMapping map[string]string `json:"field_mapping"`

	UseMagnetometer *bool    `json:"use_magnetometer"`
	MadgwickBeta    *float64 `json:"madgwick_beta"`
	SmoothingWindow *int     `json:"smoothing_window"`
}

// Handle parses one raw command message and returns the marshalled
// response. Command failures are surfaced in the envelope; they never
// propagate as transport errors.
func (h *CommandHandler) Handle(raw []byte) []byte {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshalResponse(h.fail("unknown", "", "invalid message: "+err.Error()))
	}
	if req.ID == "" {
		req.ID = "unknown"
	}

	h.metrics.IncCommandsHandled()
	resp := h.dispatch(&req)
	if ok, _ := resp["success"].(bool); !ok {
		h.metrics.IncCommandErrors()
	}
	return marshalResponse(resp)
}

func (h *CommandHandler) dispatch(req *request) map[string]interface{} {
	switch req.Command {
	case "list_ports":
		return h.listPorts(req)
	case "open_port":
		return h.openPort(req)
	case "close_port":
		return h.closePort(req)
	case "write_port":
		return h.writePort(req, false)
	case "write_port_line":
		return h.writePort(req, true)
	case "read_port":
		return h.readPort(req)
	case "read_port_line":
		return h.readPortLine(req)
	case "is_port_open":
		return h.isPortOpen(req)
	case "get_port_info":
		return h.getPortInfo(req)
	case "close_all_ports":
		return h.closeAllPorts(req)
	case "get_parser_info":
		return h.getParserInfo(req)
	case "set_active_parser":
		return h.setActiveParser(req)
	case "enable_auto_detection":
		h.registry.EnableAuto()
		return h.ok(req)
	case "add_custom_parser":
		return h.addCustomParser(req)
	case "configure_sentinel_parser":
		return h.configureSentinelParser(req)
	case "configure_sensor_fusion":
		return h.configureSensorFusion(req)
	case "reset_sensor_fusion":
		h.dispatcher.ResetFusion()
		resp := h.ok(req)
		resp["message"] = "Sensor fusion reset successfully"
		return resp
	default:
		return h.fail(req.ID, req.Command, "Unknown command: "+req.Command)
	}
}

func (h *CommandHandler) listPorts(req *request) map[string]interface{} {
	resp := h.ok(req)
	resp["data"] = h.serial.List()
	return resp
}

func (h *CommandHandler) openPort(req *request) map[string]interface{} {
	if req.Port == "" {
		return h.fail(req.ID, req.Command, "Port parameter is required")
	}
	baud := req.Baudrate
	if baud == 0 {
		baud = 9600
	}
	if err := h.serial.Open(req.Port, serialio.DefaultOptions(baud)); err != nil {
		logger.Error("open_port failed", zap.String("port", req.Port), zap.Error(err))
		return h.fail(req.ID, req.Command, err.Error())
	}
	resp := h.ok(req)
	resp["port"] = req.Port
	resp["baudrate"] = baud
	return resp
}

func (h *CommandHandler) closePort(req *request) map[string]interface{} {
	if req.Port == "" {
		return h.fail(req.ID, req.Command, "Port parameter is required")
	}
	if err := h.serial.Close(req.Port); err != nil {
		return h.fail(req.ID, req.Command, err.Error())
	}
	resp := h.ok(req)
	resp["port"] = req.Port
	return resp
}

func (h *CommandHandler) writePort(req *request, line bool) map[string]interface{} {
	if req.Port == "" || req.Data == "" {
		return h.fail(req.ID, req.Command, "Port and data parameters are required")
	}
	var err error
	if line {
		err = h.serial.WriteLine(req.Port, req.Data)
	} else {
		err = h.serial.Write(req.Port, req.Data)
	}
	if err != nil {
		return h.fail(req.ID, req.Command, err.Error())
	}
	resp := h.ok(req)
	resp["port"] = req.Port
	resp["data"] = req.Data
	return resp
}

func (h *CommandHandler) readPort(req *request) map[string]interface{} {
	if req.Port == "" {
		return h.fail(req.ID, req.Command, "Port parameter is required")
	}
	data, err := h.serial.Read(req.Port, req.NumBytes)
	if err != nil {
		return h.fail(req.ID, req.Command, err.Error())
	}
	resp := h.ok(req)
	resp["port"] = req.Port
	resp["data"] = data
	return resp
}

func (h *CommandHandler) readPortLine(req *request) map[string]interface{} {
	if req.Port == "" {
		return h.fail(req.ID, req.Command, "Port parameter is required")
	}
	data, err := h.serial.ReadLine(req.Port)
	if err != nil {
		return h.fail(req.ID, req.Command, err.Error())
	}
	resp := h.ok(req)
	resp["port"] = req.Port
	resp["data"] = data
	return resp
}

func (h *CommandHandler) isPortOpen(req *request) map[string]interface{} {
	if req.Port == "" {
		return h.fail(req.ID, req.Command, "Port parameter is required")
	}
	resp := h.ok(req)
	resp["port"] = req.Port
	resp["is_open"] = h.serial.IsOpen(req.Port)
	return resp
}

func (h *CommandHandler) getPortInfo(req *request) map[string]interface{} {
	if req.Port == "" {
		return h.fail(req.ID, req.Command, "Port parameter is required")
	}
	info, ok := h.serial.Info(req.Port)
	if !ok {
		return h.fail(req.ID, req.Command, "port "+req.Port+" is not open")
	}
	resp := h.ok(req)
	resp["port"] = req.Port
	resp["info"] = info
	return resp
}

func (h *CommandHandler) closeAllPorts(req *request) map[string]interface{} {
	if err := h.serial.CloseAll(); err != nil {
		return h.fail(req.ID, req.Command, err.Error())
	}
	return h.ok(req)
}

func (h *CommandHandler) getParserInfo(req *request) map[string]interface{} {
	resp := h.ok(req)
	resp["data"] = h.registry.Info()
	return resp
}

func (h *CommandHandler) setActiveParser(req *request) map[string]interface{} {
	if req.ParserName == "" {
		return h.fail(req.ID, req.Command, "parser_name parameter is required")
	}
	if err := h.registry.SetPinned(req.ParserName); err != nil {
		return h.fail(req.ID, req.Command, err.Error())
	}
	resp := h.ok(req)
	resp["parser_name"] = req.ParserName
	return resp
}

func (h *CommandHandler) addCustomParser(req *request) map[string]interface{} {
	if req.Delimiter == "" {
		return h.fail(req.ID, req.Command, "delimiter parameter is required")
	}
	decoder := telemetry.NewCustomDecoder(req.Delimiter, req.FieldNames, req.ParserName)
	h.registry.Register(decoder)

	resp := h.ok(req)
	resp["delimiter"] = req.Delimiter
	resp["field_names"] = req.FieldNames
	resp["parser_name"] = decoder.Name()
	return resp
}

func (h *CommandHandler) configureSentinelParser(req *request) map[string]interface{} {
	sentinel := h.registry.Sentinel()
	if sentinel == nil {
		return h.fail(req.ID, req.Command, "SENTINEL parser is not registered")
	}

	mapping := make(map[int]string, len(req.FieldMapping))
	for k, name := range req.FieldMapping {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return h.fail(req.ID, req.Command, "invalid field index: "+k)
		}
		mapping[idx] = name
	}
	sentinel.Configure(mapping)

	resp := h.ok(req)
	resp["field_mapping"] = req.FieldMapping
	return resp
}

func (h *CommandHandler) configureSensorFusion(req *request) map[string]interface{} {
	useMag := true
	if req.UseMagnetometer != nil {
		useMag = *req.UseMagnetometer
	}
	beta := 0.1
	if req.MadgwickBeta != nil {
		beta = *req.MadgwickBeta
	}
	window := 5
	if req.SmoothingWindow != nil {
		window = *req.SmoothingWindow
	}

	h.dispatcher.ConfigureFusion(useMag, beta, window)
	resp := h.ok(req)
	resp["message"] = "Sensor fusion configured successfully"
	return resp
}

func (h *CommandHandler) ok(req *request) map[string]interface{} {
	return map[string]interface{}{
		"id":      req.ID,
		"type":    "response",
		"command": req.Command,
		"success": true,
	}
}

func (h *CommandHandler) fail(id, command, message string) map[string]interface{} {
	return map[string]interface{}{
		"id":      id,
		"type":    "response",
		"command": command,
		"success": false,
		"error":   message,
	}
}

func marshalResponse(resp map[string]interface{}) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"type":"response","success":false,"error":"internal marshal failure"}`)
	}
	return data
}
