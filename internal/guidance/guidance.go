// Package guidance renders localized, actionable messages for the scan UI.
package guidance

import (
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
)

const (
	keyPrompt         = "Place the %s of your ID inside the frame"
	keyHoldSteady     = "Hold steady, capturing"
	keyCaptured       = "%s captured"
	keyForced         = "%s captured without edge detection, please review the image"
	keyEngineLoad     = "Automatic detection is unavailable. The image will be captured after a short delay"
	keyCameraDenied   = "Camera access was denied. Allow camera access and try again"
	keyCameraMissing  = "No camera was found. Connect a camera or upload a photo instead"
	keyCameraBusy     = "The camera is in use by another application. Close it and try again"
	keyCameraTimeout  = "The camera did not start in time. Try again"
	keyInvalidOutline = "The document outline could not be used. Retake the photo"
	keyCaptureFailed  = "The photo could not be processed. Retake the photo"
	keyCancelled      = "Scan cancelled"
	keyUnknown        = "Something went wrong. Try again"
	keyFront          = "front"
	keyBack           = "back"
)

var supported = []language.Tag{language.English, language.Filipino, language.Arabic}

var matcher = language.NewMatcher(supported)

var cat = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	set := func(tag language.Tag, msgs map[string]string) {
		for k, v := range msgs {
			_ = b.SetString(tag, k, v)
		}
	}

	english := map[string]string{}
	for _, k := range []string{
		keyPrompt, keyHoldSteady, keyCaptured, keyForced, keyEngineLoad, keyCameraDenied,
		keyCameraMissing, keyCameraBusy, keyCameraTimeout, keyInvalidOutline, keyCaptureFailed,
		keyCancelled, keyUnknown, keyFront, keyBack,
	} {
		english[k] = k
	}
	set(language.English, english)

	set(language.Filipino, map[string]string{
		keyPrompt:         "Ilagay ang %s ng iyong ID sa loob ng frame",
		keyHoldSteady:     "Huwag gumalaw, kinukuhanan na",
		keyCaptured:       "Nakuha na ang %s",
		keyForced:         "Nakuha ang %s nang walang nakitang gilid, pakisuri ang larawan",
		keyEngineLoad:     "Hindi available ang awtomatikong pagtukoy. Kukunin ang larawan pagkalipas ng ilang sandali",
		keyCameraDenied:   "Tinanggihan ang access sa camera. Payagan ang camera at subukang muli",
		keyCameraMissing:  "Walang nakitang camera. Magkabit ng camera o mag-upload ng larawan",
		keyCameraBusy:     "Ginagamit ng ibang application ang camera. Isara ito at subukang muli",
		keyCameraTimeout:  "Hindi nagsimula ang camera sa takdang oras. Subukang muli",
		keyInvalidOutline: "Hindi magamit ang balangkas ng dokumento. Kumuha muli ng larawan",
		keyCaptureFailed:  "Hindi maproseso ang larawan. Kumuha muli ng larawan",
		keyCancelled:      "Kinansela ang pag-scan",
		keyUnknown:        "May nangyaring mali. Subukang muli",
		keyFront:          "harap",
		keyBack:           "likod",
	})

	set(language.Arabic, map[string]string{
		keyPrompt:         "ضع %s الهوية داخل الإطار",
		keyHoldSteady:     "ثبّت الهاتف، جارٍ الالتقاط",
		keyCaptured:       "تم التقاط %s",
		keyForced:         "تم التقاط %s دون اكتشاف الحواف، يرجى مراجعة الصورة",
		keyEngineLoad:     "الاكتشاف التلقائي غير متاح. سيتم التقاط الصورة بعد لحظات",
		keyCameraDenied:   "تم رفض الوصول إلى الكاميرا. اسمح بالوصول وحاول مرة أخرى",
		keyCameraMissing:  "لم يتم العثور على كاميرا. قم بتوصيل كاميرا أو ارفع صورة",
		keyCameraBusy:     "الكاميرا قيد الاستخدام من تطبيق آخر. أغلقه وحاول مرة أخرى",
		keyCameraTimeout:  "لم تبدأ الكاميرا في الوقت المحدد. حاول مرة أخرى",
		keyInvalidOutline: "تعذر استخدام حدود المستند. أعد التقاط الصورة",
		keyCaptureFailed:  "تعذرت معالجة الصورة. أعد التقاط الصورة",
		keyCancelled:      "تم إلغاء المسح",
		keyUnknown:        "حدث خطأ ما. حاول مرة أخرى",
		keyFront:          "الوجه الأمامي",
		keyBack:           "الوجه الخلفي",
	})
	return b
}

// Supported returns the languages with a full catalog.
func Supported() []language.Tag {
	return append([]language.Tag(nil), supported...)
}

// Guide renders messages in one language.
type Guide struct {
	tag language.Tag
	p   *message.Printer
}

// For returns a Guide for the best match of an Accept-Language style string.
// Unknown or empty input falls back to English.
func For(accept string) *Guide {
	tag := language.English
	if accept != "" {
		prefs, _, err := language.ParseAcceptLanguage(accept)
		if err == nil && len(prefs) > 0 {
			_, idx, conf := matcher.Match(prefs...)
			if conf != language.No {
				tag = supported[idx]
			}
		}
	}
	return &Guide{tag: tag, p: message.NewPrinter(tag, message.Catalog(cat))}
}

// Tag returns the language of the guide.
func (g *Guide) Tag() language.Tag { return g.tag }

// Side returns the localized name of a document side ("front" or "back").
func (g *Guide) Side(side string) string {
	if side == "back" {
		return g.p.Sprintf(keyBack)
	}
	return g.p.Sprintf(keyFront)
}

// Prompt asks the user to frame the given side.
func (g *Guide) Prompt(side string) string {
	return g.p.Sprintf(keyPrompt, g.Side(side))
}

// HoldSteady is shown once a document has been detected.
func (g *Guide) HoldSteady() string { return g.p.Sprintf(keyHoldSteady) }

// Captured confirms a capture. Forced captures ask the user to review.
func (g *Guide) Captured(side string, forced bool) string {
	if forced {
		return g.p.Sprintf(keyForced, g.Side(side))
	}
	return g.p.Sprintf(keyCaptured, g.Side(side))
}

// ForError returns a retry message for err.
func (g *Guide) ForError(err error) string {
	switch apperrors.KindOf(err) {
	case "":
		return ""
	case apperrors.KindEngineLoad:
		return g.p.Sprintf(keyEngineLoad)
	case apperrors.KindCameraUnavailable:
		return g.cameraMessage(err)
	case apperrors.KindInvalidGeometry:
		return g.p.Sprintf(keyInvalidOutline)
	case apperrors.KindCapture:
		return g.p.Sprintf(keyCaptureFailed)
	case apperrors.KindCancelled:
		return g.p.Sprintf(keyCancelled)
	default:
		return g.p.Sprintf(keyUnknown)
	}
}

func (g *Guide) cameraMessage(err error) string {
	var cue *apperrors.CameraUnavailableError
	if !errors.As(err, &cue) {
		return g.p.Sprintf(keyUnknown)
	}
	switch cue.Reason {
	case apperrors.ReasonPermission:
		return g.p.Sprintf(keyCameraDenied)
	case apperrors.ReasonNoDevice:
		return g.p.Sprintf(keyCameraMissing)
	case apperrors.ReasonBusy:
		return g.p.Sprintf(keyCameraBusy)
	default:
		return g.p.Sprintf(keyCameraTimeout)
	}
}
