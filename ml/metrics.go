package ml

// ConfusionMatrix counts binary outcomes with 1 as the positive class.
type ConfusionMatrix struct {
	TruePositive  int `json:"tp"`
	FalsePositive int `json:"fp"`
	TrueNegative  int `json:"tn"`
	FalseNegative int `json:"fn"`
}

// Confusion builds the binary confusion matrix of yPred against yTrue.
func Confusion(yTrue, yPred []int) ConfusionMatrix {
	var cm ConfusionMatrix
	for i := range yTrue {
		switch {
		case yPred[i] == 1 && yTrue[i] == 1:
			cm.TruePositive++
		case yPred[i] == 1 && yTrue[i] == 0:
			cm.FalsePositive++
		case yPred[i] == 0 && yTrue[i] == 1:
			cm.FalseNegative++
		default:
			cm.TrueNegative++
		}
	}
	return cm
}

// Classification metrics (binary, labels 0/1)
func AccuracyInt(yTrue []int, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	c := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			c++
		}
	}
	return float64(c) / float64(len(yTrue))
}

func PrecisionRecallF1(yTrue []int, yPred []int) (prec, rec, f1 float64) {
	cm := Confusion(yTrue, yPred)
	tp, fp, fn := cm.TruePositive, cm.FalsePositive, cm.FalseNegative
	if tp+fp > 0 {
		prec = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		rec = float64(tp) / float64(tp+fn)
	}
	if prec+rec > 0 {
		f1 = 2 * prec * rec / (prec + rec)
	}
	return
}
