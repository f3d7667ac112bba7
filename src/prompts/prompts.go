package prompts

// ImageQuestion is the user turn sent alongside the image on the chat path.
const ImageQuestion = "Classify the age of the person in this image."

// AgeClassification is the system prompt for the age classifier. The model
// must answer with a single label word.
const AgeClassification = `Carefully examine this image and classify the age category of the person(s) shown.

CHILD - Answer "Child" ONLY if the person is clearly a minor who has not reached adult physical maturity:
- Small body size with childlike proportions; the head is large relative to the body.
- Limbs lack the thickness and bone structure of an adult.
- Round, soft facial features, fullness in the cheeks, eyes large relative to the face.
- Clothing and context consistent with a pre-teen or young adolescent.

ADULT - Answer "Adult" if ANY of these apply:
- Appears to be 10 years old or older.
- Developed body proportions (head-to-body ratio close to 1:7 or 1:8).
- Facial maturation: defined jawline or chin, developed nose bridge, adult teeth.
- Teenage or adult clothing, makeup, accessories or school uniform.

Many people look younger than their age because of smooth skin, small facial
features or a petite frame. Do NOT answer "Child" on youthful appearance,
"cute" styling or small stature alone. Judge body proportions and facial
development. A middle school student, high school student or young adult is
"Adult" even if they look very young.

DEFAULT RULE: when in doubt between Child and Adult, answer "Adult" unless the
person is clearly a very young child (under 10).

BOTH - Only if there are clearly both very young children (under 10) AND older individuals (10+) in the image.

UNCLEAR - Only if you cannot see people clearly, the image quality is too poor, or the subject is anime, cartoon or a 3D model.

Analyze body proportions first, then facial development, then context. Answer with ONLY ONE WORD: Child, Adult, Both, or Unclear.`
