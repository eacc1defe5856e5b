package state

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/kubeheal/kubeheal/pkg/workload"
)

func testDeployment(annotations map[string]string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:            "web",
			Namespace:       "prod",
			ResourceVersion: "100",
			Annotations:     annotations,
		},
	}
}

var ref = workload.NewRef("web", "prod")

var deploymentsGVR = schema.GroupVersionResource{Group: "apps", Version: "v1", Resource: "deployments"}

// enforceResourceVersions makes the fake clientset behave like a real API
// server for deployments: every write bumps the resourceVersion and an
// update carrying a stale one is rejected with 409. The fixture tracker
// does neither on its own.
func enforceResourceVersions(clientset *fake.Clientset) {
	tracker := clientset.Tracker()
	reaction := k8stesting.ObjectReaction(tracker)

	wrap := func(action k8stesting.Action) (bool, runtime.Object, error) {
		if upd, ok := action.(k8stesting.UpdateAction); ok {
			dep, ok := upd.GetObject().(*appsv1.Deployment)
			if !ok {
				return reaction(action)
			}
			cur, err := tracker.Get(deploymentsGVR, dep.Namespace, dep.Name)
			if err == nil && dep.ResourceVersion != "" &&
				dep.ResourceVersion != cur.(*appsv1.Deployment).ResourceVersion {
				return true, nil, apierrors.NewConflict(
					deploymentsGVR.GroupResource(), dep.Name,
					fmt.Errorf("object has been modified"))
			}
		}

		handled, obj, err := reaction(action)
		if err != nil || !handled {
			return handled, obj, err
		}
		dep, ok := obj.(*appsv1.Deployment)
		if !ok {
			return handled, obj, err
		}

		next := dep.DeepCopy()
		rv, _ := strconv.Atoi(next.ResourceVersion)
		next.ResourceVersion = strconv.Itoa(rv + 1)
		if err := tracker.Update(deploymentsGVR, next, next.Namespace); err != nil {
			return true, nil, err
		}
		return true, next, nil
	}

	clientset.PrependReactor("update", "deployments", wrap)
	clientset.PrependReactor("patch", "deployments", wrap)
}

func TestKubeStore_LoadLazyInit(t *testing.T) {
	clientset := fake.NewClientset(testDeployment(nil))
	store := NewKubeStore(clientset)

	h, err := store.Load(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, 0, h.Attempt)
	assert.Equal(t, ActionNone, h.LastAction)
	assert.Empty(t, h.Token, "never-annotated workload has no token yet")
}

func TestKubeStore_LoadExistingAnnotations(t *testing.T) {
	clientset := fake.NewClientset(testDeployment(map[string]string{
		annotationAttempt:     "2",
		annotationLastAction:  string(ActionCacheCleared),
		annotationLastUpdated: "2026-08-01T10:00:00Z",
		annotationToken:       "tok-1",
	}))
	store := NewKubeStore(clientset)

	h, err := store.Load(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, 2, h.Attempt)
	assert.Equal(t, ActionCacheCleared, h.LastAction)
	assert.Equal(t, time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC), h.LastUpdated.UTC())
	assert.Equal(t, "tok-1", h.Token)
}

// Hand-edited garbage in the annotation reads as a fresh episode.
func TestKubeStore_LoadGarbageAnnotation(t *testing.T) {
	clientset := fake.NewClientset(testDeployment(map[string]string{
		annotationAttempt: "three",
	}))
	store := NewKubeStore(clientset)

	h, err := store.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Attempt)
}

func TestKubeStore_SaveWritesAnnotations(t *testing.T) {
	clientset := fake.NewClientset(testDeployment(nil))
	store := NewKubeStore(clientset)

	h, err := store.Load(context.Background(), ref)
	require.NoError(t, err)

	h.Attempt = 1
	h.LastAction = ActionRestarted
	h.LastUpdated = time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(context.Background(), h))

	dep, err := clientset.AppsV1().Deployments("prod").Get(context.Background(), "web", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1", dep.Annotations[annotationAttempt])
	assert.Equal(t, string(ActionRestarted), dep.Annotations[annotationLastAction])
	assert.Equal(t, "2026-08-26T12:00:00Z", dep.Annotations[annotationLastUpdated])
	assert.NotEmpty(t, dep.Annotations[annotationToken], "save mints a fresh token")
}

// Every Save rotates the token, so a reader holding the pre-save state
// can no longer write.
func TestKubeStore_SaveRotatesToken(t *testing.T) {
	clientset := fake.NewClientset(testDeployment(nil))
	store := NewKubeStore(clientset)

	h, err := store.Load(context.Background(), ref)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), h))

	reloaded, err := store.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.NotEqual(t, h.Token, reloaded.Token)
}

// Remediation mutates the Deployment between Load and Save: restart
// patches the pod template, which bumps the object's resourceVersion but
// leaves the healing annotations alone. The cycle's own action must not
// invalidate its own state write.
func TestKubeStore_SaveSurvivesOwnRemediation(t *testing.T) {
	clientset := fake.NewClientset(testDeployment(nil))
	enforceResourceVersions(clientset)
	store := NewKubeStore(clientset)

	h, err := store.Load(context.Background(), ref)
	require.NoError(t, err)

	// The same patch KubeActuator.Restart issues.
	patch := `{"spec":{"template":{"metadata":{"annotations":{"kubectl.kubernetes.io/restartedAt":"2026-08-26T12:00:00Z"}}}}}`
	_, err = clientset.AppsV1().Deployments("prod").Patch(
		context.Background(), "web", types.StrategicMergePatchType, []byte(patch), metav1.PatchOptions{})
	require.NoError(t, err)

	h.Attempt = 1
	h.LastAction = ActionRestarted
	h.LastUpdated = time.Now()
	require.NoError(t, store.Save(context.Background(), h))

	dep, err := clientset.AppsV1().Deployments("prod").Get(context.Background(), "web", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1", dep.Annotations[annotationAttempt])
}

// Two cycles load the same state; the first Save rotates the token, so
// the second write loses with ErrConflict.
func TestKubeStore_SaveConflictAfterConcurrentWrite(t *testing.T) {
	clientset := fake.NewClientset(testDeployment(nil))
	enforceResourceVersions(clientset)
	store := NewKubeStore(clientset)

	first, err := store.Load(context.Background(), ref)
	require.NoError(t, err)
	second, err := store.Load(context.Background(), ref)
	require.NoError(t, err)

	first.Attempt = 1
	first.LastAction = ActionRestarted
	require.NoError(t, store.Save(context.Background(), first))

	second.Attempt = 1
	second.LastAction = ActionRestarted
	err = store.Save(context.Background(), second)
	assert.ErrorIs(t, err, ErrConflict)

	// The winner's write is authoritative.
	reloaded, err := store.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Attempt)
}

// A 409 from the API server between Save's fresh read and its update is
// still a conflict: some other writer got in.
func TestKubeStore_SaveConflictFromAPIServer(t *testing.T) {
	clientset := fake.NewClientset(testDeployment(nil))
	clientset.PrependReactor("update", "deployments",
		func(action k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, apierrors.NewConflict(
				schema.GroupResource{Group: "apps", Resource: "deployments"},
				"web", nil)
		})
	store := NewKubeStore(clientset)

	h, err := store.Load(context.Background(), ref)
	require.NoError(t, err)

	h.Attempt = 1
	h.LastAction = ActionRestarted
	err = store.Save(context.Background(), h)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestKubeStore_SaveForbidden(t *testing.T) {
	clientset := fake.NewClientset(testDeployment(nil))
	clientset.PrependReactor("update", "deployments",
		func(action k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, apierrors.NewForbidden(
				schema.GroupResource{Group: "apps", Resource: "deployments"},
				"web", nil)
		})
	store := NewKubeStore(clientset)

	h, err := store.Load(context.Background(), ref)
	require.NoError(t, err)

	err = store.Save(context.Background(), h)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestKubeStore_LoadForbidden(t *testing.T) {
	clientset := fake.NewClientset()
	clientset.PrependReactor("get", "deployments",
		func(action k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, apierrors.NewForbidden(
				schema.GroupResource{Group: "apps", Resource: "deployments"},
				"web", nil)
		})
	store := NewKubeStore(clientset)

	_, err := store.Load(context.Background(), ref)
	assert.ErrorIs(t, err, ErrPermission)
}
