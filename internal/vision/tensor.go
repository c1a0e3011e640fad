package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// fallbackInputSide is used when a model declares dynamic spatial dims.
const fallbackInputSide = 112

// tensorModel is a single-input, single-output image model whose tensor
// names and shapes are read from the model file.
type tensorModel struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	inputW  int
	inputH  int
	outLen  int
}

// loadTensorModel opens path and checks that its first output holds wantOut
// values. wantOut <= 0 accepts any size.
func loadTensorModel(path string, wantOut int) (*tensorModel, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect model %s: %w", path, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model %s has no inputs or outputs", path)
	}
	in, out := inputs[0], outputs[0]
	if len(in.Dimensions) != 4 {
		return nil, fmt.Errorf("model %s input %q has shape %v, want NCHW", path, in.Name, in.Dimensions)
	}

	inputH, inputW := int(in.Dimensions[2]), int(in.Dimensions[3])
	if inputH <= 0 || inputW <= 0 {
		inputH, inputW = fallbackInputSide, fallbackInputSide
	}
	outLen := 1
	for _, d := range out.Dimensions {
		if d > 0 {
			outLen *= int(d)
		}
	}
	if wantOut > 0 && outLen != wantOut {
		return nil, fmt.Errorf("model %s produces %d values, want %d", path, outLen, wantOut)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(outLen)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(path,
		[]string{in.Name},
		[]string{out.Name},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create session for %s: %w", path, err)
	}

	return &tensorModel{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		inputW:  inputW,
		inputH:  inputH,
		outLen:  outLen,
	}, nil
}

// run feeds a CHW input and returns a copy of the output.
func (m *tensorModel) run(input []float32) ([]float32, error) {
	copy(m.input.GetData(), input)
	if err := m.session.Run(); err != nil {
		return nil, err
	}
	out := make([]float32, m.outLen)
	copy(out, m.output.GetData())
	return out, nil
}

func (m *tensorModel) close() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}
